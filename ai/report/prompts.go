package report

import "fmt"

// strategy is one way of asking for the report. A rejected draft is retried
// with the next strategy rather than the same wording.
type strategy struct {
	system func(query, guidance string) string
	user   func(query, posts string) string
}

const footnoteRule = `Every claim taken from a post MUST carry a footnote in [n] form, where n is the post number.
Correct: "Tesla shares fell 7% after the call[1]."
Wrong: "Tesla shares fell 7% after the call."`

var strategies = []strategy{
	// grouped by topic
	{
		system: func(query, guidance string) string {
			return fmt.Sprintf(`You analyse social media posts and write a report about %q.

%s

How to write the report:
1. Read every post and find the recurring topics.
2. A topic covered by two or more posts becomes its own section with a specific heading, e.g. "### 1. Q4 earnings miss expectations (3 posts)".
3. Put the most discussed topics first.
4. Collect one-off items under "### Other".
5. Finish with "### Overall summary".

Start the report with a single-sentence summary line.

%s`, query, footnoteRule, guidance)
		},
		user: func(query, posts string) string {
			return fmt.Sprintf(`Posts collected for %q:
%s
Group them by topic and write the report. Footnote numbers must match the post numbers above.`, query, posts)
		},
	},
	// theme based
	{
		system: func(query, guidance string) string {
			return fmt.Sprintf(`You are a social media analyst. Classify the posts by theme and report on %q.

%s

Sections follow the themes that appear in the data, most popular first. Single mentions go under "Other". End with an overall summary. Open with a one-sentence summary line.

%s`, query, footnoteRule, guidance)
		},
		user: func(query, posts string) string {
			return fmt.Sprintf(`Analyse these posts about %q by theme:
%s
Cite every post you use with its [n] number.`, query, posts)
		},
	},
	// direct instructions
	{
		system: func(query, guidance string) string {
			return fmt.Sprintf(`Summarise posts about %q into a footnoted report.

Steps: read all posts, group similar ones, one section per group, popular groups first, leftovers under "Other", overall summary last. First line: a one-sentence summary.

Footnotes are mandatory and use [1], [2], [3].

%s`, query, guidance)
		},
		user: func(query, posts string) string {
			return fmt.Sprintf(`%s
Write the %q report now. Use [n] footnotes in post order.`, posts, query)
		},
	},
}

// Package report drafts keyword reports from collected posts with a chat model.
//
// Posts are numbered in the prompt and the model cites them with [n]
// footnotes. Each numbered post with a URL becomes a citation mapping, so the
// report store can resolve footnotes to links.
package report

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/ai/openrouter"
	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/pulse/schedule"
)

// Chatter is the slice of the OpenRouter client the generator needs
type Chatter interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

const (
	// MaxPosts caps how many posts go into one prompt
	MaxPosts = 35
	// maxContentChars truncates each post body in the prompt
	maxContentChars = 800
	// maxSummaryChars bounds the one-line summary
	maxSummaryChars = 200
)

var footnotePattern = regexp.MustCompile(`\[(\d+)\]`)

// Phrases that mark a refusal instead of a report
var refusalMarkers = []string{
	"i'm sorry",
	"i am sorry",
	"i cannot provide",
	"i'm unable to",
	"i can't help",
	"as an ai",
}

// preset tunes the prompt and output limits for one report length
type preset struct {
	maxTokens int
	minChars  int
	guidance  string
}

var presets = map[schedule.ReportLength]preset{
	schedule.ReportSimple: {
		maxTokens: 1200,
		minChars:  300,
		guidance:  "Keep it short: at most three sections with a few bullet points each.",
	},
	schedule.ReportModerate: {
		maxTokens: 2500,
		minChars:  800,
		guidance:  "Write a balanced report of four to six sections.",
	},
	schedule.ReportDetailed: {
		maxTokens: 4000,
		minChars:  1500,
		guidance:  "Write an in-depth report. Cover every recurring theme with concrete figures and quotes.",
	},
}

// Generator implements schedule.Generator on top of a chat model
type Generator struct {
	chat        Chatter
	logger      *zap.SugaredLogger
	maxAttempts int
}

// NewGenerator creates a generator. Each call tries up to three prompt
// strategies before giving up.
func NewGenerator(chat Chatter, logger *zap.SugaredLogger) *Generator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Generator{chat: chat, logger: logger.Named("report"), maxAttempts: len(strategies)}
}

// Generate drafts a report for query from posts
func (g *Generator) Generate(ctx context.Context, query string, posts []schedule.Post, length schedule.ReportLength) (*schedule.GeneratedReport, error) {
	if len(posts) == 0 {
		return nil, errors.NewInvalidRequestError("no posts to report on for %q", query)
	}
	p, ok := presets[length]
	if !ok {
		p = presets[schedule.ReportModerate]
	}

	selected := selectPosts(posts)
	numbered := formatPosts(selected)

	var lastReason string
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		s := strategies[attempt%len(strategies)]
		maxTokens := p.maxTokens
		resp, err := g.chat.Chat(ctx, openrouter.ChatRequest{
			SystemPrompt: s.system(query, p.guidance),
			UserPrompt:   s.user(query, numbered),
			MaxTokens:    &maxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(err, "report generation interrupted")
			}
			lastReason = err.Error()
			g.logger.Warnw("report attempt failed", "attempt", attempt+1, "keyword", query, "error", err)
			continue
		}

		if reason := validate(resp.Content, p.minChars); reason != "" {
			lastReason = reason
			g.logger.Warnw("report rejected", "attempt", attempt+1, "keyword", query, "reason", reason)
			continue
		}

		g.logger.Infow("report generated",
			"attempt", attempt+1,
			"keyword", query,
			"posts", len(selected),
			"chars", len(resp.Content),
			"model", resp.Model,
		)
		return &schedule.GeneratedReport{
			Summary:          summarize(resp.Content),
			FullReport:       resp.Content,
			CitationMappings: citations(selected),
		}, nil
	}

	return nil, errors.Newf("no acceptable report after %d attempts: %s", g.maxAttempts, lastReason)
}

// selectPosts orders posts by score and keeps the top MaxPosts
func selectPosts(posts []schedule.Post) []schedule.Post {
	sorted := make([]schedule.Post, len(posts))
	copy(sorted, posts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > MaxPosts {
		sorted = sorted[:MaxPosts]
	}
	return sorted
}

func formatPosts(posts []schedule.Post) string {
	var b strings.Builder
	for i, post := range posts {
		fmt.Fprintf(&b, "\n[Post %d - %s]\n", i+1, post.SourceLabel)
		if post.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", post.Title)
		}
		if post.Author != "" {
			fmt.Fprintf(&b, "Author: %s\n", post.Author)
		}
		fmt.Fprintf(&b, "Score: %d | Comments: %d\n", post.Score, post.CommentCount)
		if post.Content != "" {
			fmt.Fprintf(&b, "Content: %s\n", truncate(post.Content, maxContentChars))
		}
		if post.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", post.URL)
		}
	}
	return b.String()
}

// citations maps footnote n to the n-th prompt post that has a URL
func citations(posts []schedule.Post) []schedule.Citation {
	var out []schedule.Citation
	for i, post := range posts {
		if post.URL == "" {
			continue
		}
		out = append(out, schedule.Citation{
			Index:     i + 1,
			URL:       post.URL,
			Title:     post.Title,
			Source:    post.SourceLabel,
			Score:     post.Score,
			Comments:  post.CommentCount,
			CreatedAt: post.CreatedAt.UTC().Truncate(time.Second),
		})
	}
	return out
}

// validate returns why content is not an acceptable report, or ""
func validate(content string, minChars int) string {
	if utf8.RuneCountInString(content) < minChars {
		return fmt.Sprintf("report too short (%d < %d chars)", utf8.RuneCountInString(content), minChars)
	}
	lower := strings.ToLower(content)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Sprintf("refusal detected: %q", marker)
		}
	}
	if !footnotePattern.MatchString(content) {
		return "no [n] footnotes"
	}
	return ""
}

// summarize takes the first meaningful line of the report
func summarize(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*- "))
		if line == "" {
			continue
		}
		return truncate(line, maxSummaryChars)
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

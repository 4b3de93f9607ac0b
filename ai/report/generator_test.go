package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/keywatch/ai/openrouter"
	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/pulse/schedule"
)

// scriptedChat replays replies in order; an error entry fails that call
type scriptedChat struct {
	mu       sync.Mutex
	replies  []any
	requests []openrouter.ChatRequest
}

func (c *scriptedChat) Chat(_ context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return &openrouter.ChatResponse{Content: next.(string), Model: openrouter.DefaultModel}, nil
}

func samplePosts() []schedule.Post {
	created := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	return []schedule.Post{
		{Title: "Go 1.26 released", URL: "https://news.ycombinator.com/item?id=1", Score: 40, CommentCount: 12, SourceLabel: "hackernews", CreatedAt: created},
		{Title: "Generics in practice", URL: "https://reddit.com/r/golang/abc", Score: 310, CommentCount: 88, SourceLabel: "reddit", Author: "gopher", Content: "Long write-up", CreatedAt: created},
		{Title: "No link here", Score: 5, SourceLabel: "reddit"},
	}
}

func goodReport(chars int) string {
	head := "Go developers are excited about the new release[1].\n\n### 1. Generics adoption (2 posts)\n- Teams report fewer helpers[1][2].\n"
	if len(head) >= chars {
		return head
	}
	return head + strings.Repeat("More analysis. ", (chars-len(head))/15+1)
}

func TestGenerate_Success(t *testing.T) {
	chat := &scriptedChat{replies: []any{"## " + goodReport(900)}}
	g := NewGenerator(chat, zaptest.NewLogger(t).Sugar())

	out, err := g.Generate(context.Background(), "golang", samplePosts(), schedule.ReportModerate)
	require.NoError(t, err)

	assert.Equal(t, "Go developers are excited about the new release[1].", out.Summary)
	assert.True(t, strings.HasPrefix(out.FullReport, "## Go developers"))

	// Posts are ordered by score, so the reddit post is footnote 1
	require.Len(t, out.CitationMappings, 2)
	assert.Equal(t, 1, out.CitationMappings[0].Index)
	assert.Equal(t, "https://reddit.com/r/golang/abc", out.CitationMappings[0].URL)
	assert.Equal(t, 88, out.CitationMappings[0].Comments)
	assert.Equal(t, 2, out.CitationMappings[1].Index)
	assert.Equal(t, "hackernews", out.CitationMappings[1].Source)

	require.Len(t, chat.requests, 1)
	req := chat.requests[0]
	assert.Equal(t, 2500, *req.MaxTokens)
	assert.Contains(t, req.UserPrompt, "[Post 1 - reddit]")
	assert.Contains(t, req.UserPrompt, "URL: https://news.ycombinator.com/item?id=1")
	assert.Contains(t, req.SystemPrompt, "[n]")
}

func TestGenerate_LengthPresets(t *testing.T) {
	tests := []struct {
		length    schedule.ReportLength
		maxTokens int
		minChars  int
	}{
		{schedule.ReportSimple, 1200, 300},
		{schedule.ReportModerate, 2500, 800},
		{schedule.ReportDetailed, 4000, 1500},
	}
	for _, tt := range tests {
		t.Run(string(tt.length), func(t *testing.T) {
			chat := &scriptedChat{replies: []any{goodReport(tt.minChars)}}
			g := NewGenerator(chat, zaptest.NewLogger(t).Sugar())

			_, err := g.Generate(context.Background(), "golang", samplePosts(), tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.maxTokens, *chat.requests[0].MaxTokens)
		})
	}
}

func TestGenerate_RejectedDraftTriesNextStrategy(t *testing.T) {
	chat := &scriptedChat{replies: []any{
		"I'm sorry, I cannot provide a report on that.",
		fmt.Errorf("upstream 502"),
		goodReport(900),
	}}
	g := NewGenerator(chat, zaptest.NewLogger(t).Sugar())

	out, err := g.Generate(context.Background(), "golang", samplePosts(), schedule.ReportModerate)
	require.NoError(t, err)
	assert.NotEmpty(t, out.FullReport)

	require.Len(t, chat.requests, 3)
	assert.NotEqual(t, chat.requests[0].SystemPrompt, chat.requests[1].SystemPrompt)
	assert.NotEqual(t, chat.requests[1].SystemPrompt, chat.requests[2].SystemPrompt)
}

func TestGenerate_AllAttemptsRejected(t *testing.T) {
	noFootnotes := strings.Repeat("A report without any citations. ", 40)
	chat := &scriptedChat{replies: []any{noFootnotes, noFootnotes, noFootnotes}}
	g := NewGenerator(chat, zaptest.NewLogger(t).Sugar())

	_, err := g.Generate(context.Background(), "golang", samplePosts(), schedule.ReportModerate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "no [n] footnotes")
}

func TestGenerate_NoPosts(t *testing.T) {
	g := NewGenerator(&scriptedChat{}, nil)
	_, err := g.Generate(context.Background(), "golang", nil, schedule.ReportSimple)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestGenerate_CapsPromptPosts(t *testing.T) {
	var posts []schedule.Post
	for i := 0; i < MaxPosts+10; i++ {
		posts = append(posts, schedule.Post{
			Title:       fmt.Sprintf("post %d", i),
			URL:         fmt.Sprintf("https://example.com/%d", i),
			Score:       i,
			SourceLabel: "reddit",
		})
	}
	chat := &scriptedChat{replies: []any{goodReport(900)}}
	g := NewGenerator(chat, zaptest.NewLogger(t).Sugar())

	out, err := g.Generate(context.Background(), "golang", posts, schedule.ReportModerate)
	require.NoError(t, err)
	assert.Len(t, out.CitationMappings, MaxPosts)
	assert.Equal(t, "post 44", out.CitationMappings[0].Title, "highest score first")
	assert.NotContains(t, chat.requests[0].UserPrompt, fmt.Sprintf("[Post %d ", MaxPosts+1))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "Headline", summarize("\n\n### Headline\nbody"))
	assert.Equal(t, "", summarize("  \n \n"))
	long := strings.Repeat("x", 250)
	assert.Equal(t, strings.Repeat("x", 200)+"...", summarize(long))
}

// Package hackernews searches Hacker News stories through the Algolia API.
package hackernews

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/internal/httpclient"
	"github.com/teranos/keywatch/pulse/schedule"
)

const (
	DefaultBaseURL = "https://hn.algolia.com/api/v1"
	itemURL        = "https://news.ycombinator.com/item?id="
	sourceLabel    = "hackernews"
)

// Config for the Hacker News source
type Config struct {
	BaseURL           string
	Limit             int // hits per search (default 25)
	RequestsPerMinute int // default 60
	Timeout           time.Duration
	Logger            *zap.SugaredLogger
}

// Source implements collect.Source for Hacker News
type Source struct {
	cfg     Config
	http    *httpclient.SaferClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// New creates a Hacker News source with defaults applied
func New(cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Limit <= 0 {
		cfg.Limit = 25
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Source{
		cfg:     cfg,
		http:    httpclient.New(cfg.Timeout, httpclient.Options{}),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:  logger.Named("hackernews"),
	}
}

// Name implements collect.Source
func (s *Source) Name() string { return sourceLabel }

type searchResponse struct {
	Hits []hit `json:"hits"`
}

type hit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	StoryText   string `json:"story_text"`
	CreatedAtI  int64  `json:"created_at_i"`
}

// Search returns stories matching keyword
func (s *Source) Search(ctx context.Context, keyword string) ([]schedule.Post, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "hackernews rate limiter")
	}

	q := url.Values{}
	q.Set("query", keyword)
	q.Set("tags", "story")
	q.Set("hitsPerPage", strconv.Itoa(s.cfg.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build hackernews request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "hackernews request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("hackernews returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errors.Wrap(err, "failed to decode hackernews response")
	}

	posts := make([]schedule.Post, 0, len(sr.Hits))
	for _, h := range sr.Hits {
		if h.ObjectID == "" || h.Title == "" {
			continue
		}
		posts = append(posts, h.toPost())
	}
	s.logger.Debugw("hackernews search", "keyword", keyword, "posts", len(posts))
	return posts, nil
}

func (h hit) toPost() schedule.Post {
	link := h.URL
	if link == "" {
		// Ask HN and similar have no external link
		link = itemURL + h.ObjectID
	}
	content := h.StoryText
	if content == "" {
		content = h.Title
	}
	author := h.Author
	if author == "" {
		author = "unknown"
	}
	return schedule.Post{
		Title:        h.Title,
		Author:       author,
		Content:      content,
		URL:          link,
		Score:        h.Points,
		CommentCount: h.NumComments,
		CreatedAt:    time.Unix(h.CreatedAtI, 0).UTC(),
		SourceLabel:  sourceLabel,
	}
}

// SetHTTPClient overrides the HTTP client. Tests only.
func (s *Source) SetHTTPClient(client *http.Client) {
	s.http = httpclient.Wrap(client)
}

// Package reddit searches Reddit's public JSON listing for posts.
package reddit

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
	DefaultBaseURL = "https://www.reddit.com"
	sourceLabel    = "reddit"
	maxContent     = 1000
	maxLimit       = 100
)

// Config for the Reddit source
type Config struct {
	BaseURL           string
	UserAgent         string
	Limit             int    // posts per search, capped at 100 (default 25)
	Sort              string // relevance, hot, top, new (default relevance)
	TimeFilter        string // hour, day, week, month, year, all (default week)
	RequestsPerMinute int    // default 30
	Timeout           time.Duration
	Logger            *zap.SugaredLogger
}

// Source implements collect.Source for Reddit
type Source struct {
	cfg     Config
	http    *httpclient.SaferClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// New creates a Reddit source with defaults applied
func New(cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Limit <= 0 {
		cfg.Limit = 25
	}
	if cfg.Limit > maxLimit {
		cfg.Limit = maxLimit
	}
	if cfg.Sort == "" {
		cfg.Sort = "relevance"
	}
	if cfg.TimeFilter == "" {
		cfg.TimeFilter = "week"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
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
		http:    httpclient.New(cfg.Timeout, httpclient.Options{UserAgent: cfg.UserAgent}),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:  logger.Named("reddit"),
	}
}

// Name implements collect.Source
func (s *Source) Name() string { return sourceLabel }

type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Selftext    string  `json:"selftext"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Search runs one search across all of Reddit
func (s *Source) Search(ctx context.Context, keyword string) ([]schedule.Post, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "reddit rate limiter")
	}

	q := url.Values{}
	q.Set("q", keyword)
	q.Set("sort", s.cfg.Sort)
	q.Set("t", s.cfg.TimeFilter)
	q.Set("limit", strconv.Itoa(s.cfg.Limit))
	q.Set("raw_json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build reddit request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "reddit request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("reddit returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, errors.Wrap(err, "failed to decode reddit listing")
	}

	posts := make([]schedule.Post, 0, len(l.Data.Children))
	for _, c := range l.Data.Children {
		posts = append(posts, c.Data.toPost())
	}
	s.logger.Debugw("reddit search", "keyword", keyword, "posts", len(posts))
	return posts, nil
}

func (p post) toPost() schedule.Post {
	author := p.Author
	if author == "" {
		author = "[deleted]"
	}
	content := p.Selftext
	if r := []rune(content); len(r) > maxContent {
		content = string(r[:maxContent])
	}
	return schedule.Post{
		Title:        p.Title,
		Author:       author,
		Content:      content,
		URL:          "https://reddit.com" + p.Permalink,
		Score:        p.Score,
		CommentCount: p.NumComments,
		CreatedAt:    time.Unix(int64(p.CreatedUTC), 0).UTC(),
		SourceLabel:  sourceLabel,
	}
}

// SetHTTPClient overrides the HTTP client. Tests only.
func (s *Source) SetHTTPClient(client *http.Client) {
	s.http = httpclient.Wrap(client)
}

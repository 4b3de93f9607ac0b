package am

import (
	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
)

var (
	redditSorts       = map[string]bool{"relevance": true, "hot": true, "top": true, "new": true, "comments": true}
	redditTimeFilters = map[string]bool{"hour": true, "day": true, "week": true, "month": true, "year": true, "all": true}
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	dialect, err := db.ParseDialect(c.Database.Driver)
	if err != nil {
		return err
	}
	if dialect == db.DialectPostgres && c.Database.URL == "" {
		return errors.New("database.url is required when database.driver is pgx")
	}

	// Pulse: zero tick interval falls back to one minute, negative is invalid
	if c.Pulse.TickIntervalSeconds < 0 {
		return errors.Newf("pulse.tick_interval_seconds must be >= 0, got %d", c.Pulse.TickIntervalSeconds)
	}
	if c.Pulse.MaxAttempts < 1 {
		return errors.Newf("pulse.max_attempts must be >= 1, got %d", c.Pulse.MaxAttempts)
	}
	if c.Pulse.RetryDelaySeconds < 0 {
		return errors.Newf("pulse.retry_delay_seconds must be >= 0, got %d", c.Pulse.RetryDelaySeconds)
	}
	if c.Pulse.DefaultIntervalMinutes < 1 {
		return errors.Newf("pulse.default_interval_minutes must be >= 1, got %d", c.Pulse.DefaultIntervalMinutes)
	}

	if c.OpenRouter.Temperature != nil && (*c.OpenRouter.Temperature < 0 || *c.OpenRouter.Temperature > 2) {
		return errors.Newf("openrouter.temperature must be within [0, 2], got %g", *c.OpenRouter.Temperature)
	}
	if c.OpenRouter.MaxTokens != nil && *c.OpenRouter.MaxTokens <= 0 {
		return errors.Newf("openrouter.max_tokens must be > 0, got %d (omit for the length preset)", *c.OpenRouter.MaxTokens)
	}
	if c.OpenRouter.RequestsPerMinute < 0 {
		return errors.Newf("openrouter.requests_per_minute must be >= 0, got %d", c.OpenRouter.RequestsPerMinute)
	}

	if !c.Reddit.Enabled && !c.HackerNews.Enabled {
		return errors.New("at least one of reddit.enabled and hackernews.enabled must be true")
	}
	if c.Reddit.Enabled {
		if c.Reddit.Limit < 1 || c.Reddit.Limit > 100 {
			return errors.Newf("reddit.limit must be within [1, 100], got %d", c.Reddit.Limit)
		}
		if !redditSorts[c.Reddit.Sort] {
			return errors.Newf("reddit.sort %q is not one of relevance, hot, top, new, comments", c.Reddit.Sort)
		}
		if !redditTimeFilters[c.Reddit.TimeFilter] {
			return errors.Newf("reddit.time_filter %q is not one of hour, day, week, month, year, all", c.Reddit.TimeFilter)
		}
	}
	if c.HackerNews.Enabled && c.HackerNews.Limit < 1 {
		return errors.Newf("hackernews.limit must be >= 1, got %d", c.HackerNews.Limit)
	}

	if c.Redis.DB < 0 {
		return errors.Newf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	// Server port: 0 falls back to the default, out of range is invalid
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be within [1, 65535], got %d", c.Server.Port)
	}
	if c.Server.RequestsPerSecond < 0 {
		return errors.Newf("server.requests_per_second must be >= 0, got %g", c.Server.RequestsPerSecond)
	}
	if c.Server.Burst < 0 {
		return errors.Newf("server.burst must be >= 0, got %d", c.Server.Burst)
	}

	return nil
}

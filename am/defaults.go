package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "keywatch.db")

	// Pulse defaults
	v.SetDefault("pulse.tick_interval_seconds", 60)
	v.SetDefault("pulse.max_attempts", 3)
	v.SetDefault("pulse.retry_delay_seconds", 5)
	v.SetDefault("pulse.default_interval_minutes", 1440) // daily
	v.SetDefault("pulse.recover_on_startup", true)

	// OpenRouter defaults
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini") // Cost-effective default
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.max_retries", 3)
	v.SetDefault("openrouter.requests_per_minute", 0)

	// Collector defaults
	v.SetDefault("reddit.enabled", true)
	v.SetDefault("reddit.user_agent", "") // empty = version-derived keywatch User-Agent
	v.SetDefault("reddit.limit", 25)
	v.SetDefault("reddit.sort", "relevance")
	v.SetDefault("reddit.time_filter", "week")
	v.SetDefault("reddit.requests_per_minute", 30) // Reddit's unauthenticated budget is small
	v.SetDefault("hackernews.enabled", true)
	v.SetDefault("hackernews.limit", 25)
	v.SetDefault("hackernews.requests_per_minute", 60)

	// Redis notification stream (disabled without addr)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "keywatch:notifications")
	v.SetDefault("redis.max_len", 10000)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.requests_per_second", 20)
	v.SetDefault("server.burst", 40)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables.
// The unprefixed names are accepted for compatibility with common tooling.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("openrouter.api_key", "KEYWATCH_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	v.BindEnv("database.url", "KEYWATCH_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("redis.password", "KEYWATCH_REDIS_PASSWORD")
}

// TickInterval returns the scheduler period
func (c *Config) TickInterval() time.Duration {
	if c.Pulse.TickIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Pulse.TickIntervalSeconds) * time.Second
}

// RetryDelay returns the fixed delay between attempts of one cycle
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Pulse.RetryDelaySeconds) * time.Second
}

// DSN returns the connection string for the configured driver
func (c *Config) DSN() string {
	if d := c.Database.Driver; d == "pgx" || d == "postgres" || d == "postgresql" {
		return c.Database.URL
	}
	if c.Database.Path == "" {
		return "keywatch.db"
	}
	return c.Database.Path
}

// ServerAddr returns the listen address for the HTTP API
func (c *Config) ServerAddr() string {
	port := c.Server.Port
	if port == 0 {
		port = DefaultServerPort
	}
	return fmt.Sprintf(":%d", port)
}

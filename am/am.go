// Package am loads keywatch configuration. Values come from built-in
// defaults, then TOML files (system, user, project), then KEYWATCH_*
// environment variables, in increasing precedence.
package am

// Config represents the keywatch configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" toml:"database"`
	Pulse      PulseConfig      `mapstructure:"pulse" toml:"pulse"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter" toml:"openrouter"`
	Reddit     RedditConfig     `mapstructure:"reddit" toml:"reddit"`
	HackerNews HackerNewsConfig `mapstructure:"hackernews" toml:"hackernews"`
	Redis      RedisConfig      `mapstructure:"redis" toml:"redis"`
	Server     ServerConfig     `mapstructure:"server" toml:"server"`
	Log        LogConfig        `mapstructure:"log" toml:"log"`
}

// DatabaseConfig selects the schedule store backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite3 (default) or pgx
	Path   string `mapstructure:"path" toml:"path"`     // SQLite file, used when driver is sqlite3
	URL    string `mapstructure:"url" toml:"url"`       // Postgres DSN, used when driver is pgx
}

// PulseConfig configures the scheduler loop and execution retries
type PulseConfig struct {
	TickIntervalSeconds    int  `mapstructure:"tick_interval_seconds" toml:"tick_interval_seconds"`       // default 60
	MaxAttempts            int  `mapstructure:"max_attempts" toml:"max_attempts"`                         // attempts per execution cycle (default 3)
	RetryDelaySeconds      int  `mapstructure:"retry_delay_seconds" toml:"retry_delay_seconds"`           // fixed delay between attempts (default 5)
	DefaultIntervalMinutes int  `mapstructure:"default_interval_minutes" toml:"default_interval_minutes"` // used by `schedule add` when --every is omitted
	RecoverOnStartup       bool `mapstructure:"recover_on_startup" toml:"recover_on_startup"`             // clear abandoned execution locks before the first tick
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey            string   `mapstructure:"api_key" toml:"api_key"`
	Model             string   `mapstructure:"model" toml:"model"`
	BaseURL           string   `mapstructure:"base_url" toml:"base_url"`
	Temperature       *float64 `mapstructure:"temperature" toml:"temperature"` // nil = client default 0.2
	MaxTokens         *int     `mapstructure:"max_tokens" toml:"max_tokens"`   // nil = per report length preset
	MaxRetries        int      `mapstructure:"max_retries" toml:"max_retries"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute" toml:"requests_per_minute"` // 0 = unlimited
}

// RedditConfig configures the Reddit collector
type RedditConfig struct {
	Enabled           bool   `mapstructure:"enabled" toml:"enabled"`
	UserAgent         string `mapstructure:"user_agent" toml:"user_agent"`
	Limit             int    `mapstructure:"limit" toml:"limit"`
	Sort              string `mapstructure:"sort" toml:"sort"`
	TimeFilter        string `mapstructure:"time_filter" toml:"time_filter"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute"`
}

// HackerNewsConfig configures the Hacker News collector
type HackerNewsConfig struct {
	Enabled           bool `mapstructure:"enabled" toml:"enabled"`
	Limit             int  `mapstructure:"limit" toml:"limit"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" toml:"requests_per_minute"`
}

// RedisConfig configures the notification stream. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" toml:"addr"`
	Password string `mapstructure:"password" toml:"password"`
	DB       int    `mapstructure:"db" toml:"db"`
	Stream   string `mapstructure:"stream" toml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" toml:"max_len"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port              int      `mapstructure:"port" toml:"port"`
	AllowedOrigins    []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `mapstructure:"burst" toml:"burst"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// DefaultServerPort is the API port when none is configured
const DefaultServerPort = 8787

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

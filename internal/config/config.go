// Package config loads the application configuration: an optional YAML file
// with environment variable overrides on top. Secrets (API keys, database
// DSN) come from the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "marketfeed/pkg/config"
)

// Analyzer provider names.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderNoop   = "noop"
)

// FeedSource is one secondary RSS source.
type FeedSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config is the full application configuration.
type Config struct {
	// Upstream article service.
	FeedAPIBaseURL string `yaml:"feed_api_base_url"`

	// Push channel. Empty URL disables push; polling carries the feed.
	PushWebSocketURL string `yaml:"push_websocket_url"`
	PushStream       string `yaml:"push_stream"`

	// Poll cadence.
	PollInterval time.Duration `yaml:"poll_interval"`
	FreshWindow  time.Duration `yaml:"fresh_window"`

	// Secondary sources.
	RSSFeeds               []FeedSource `yaml:"rss_feeds"`
	TradingEconomicsURL    string       `yaml:"trading_economics_url"`
	EnableTradingEconomics bool         `yaml:"enable_trading_economics"`

	// Analysis.
	AnalyzerProvider string `yaml:"analyzer_provider"`
	OpenAIAPIKey     string `yaml:"-"`
	ClaudeAPIKey     string `yaml:"-"`

	// Content enhancement.
	EnableContentFetch bool `yaml:"enable_content_fetch"`
	MinContentLength   int  `yaml:"min_content_length"`

	// Cache.
	CacheMaxSize       int           `yaml:"cache_max_size"`
	CacheMaxAge        time.Duration `yaml:"cache_max_age"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`

	// Durable store. Empty disables the durable tier.
	DatabaseURL string `yaml:"-"`

	// Health monitoring.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// Scheduled full refresh, cron syntax.
	RefreshSchedule string `yaml:"refresh_schedule"`

	// Serving.
	MetricsAddr string `yaml:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr"`

	// Logging.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		FeedAPIBaseURL:      "http://localhost:3001",
		PushStream:          "articles-changes",
		PollInterval:        60 * time.Second,
		FreshWindow:         2 * time.Minute,
		AnalyzerProvider:    ProviderNoop,
		EnableContentFetch:  true,
		MinContentLength:    200,
		CacheMaxSize:        500,
		CacheMaxAge:         7 * 24 * time.Hour,
		CacheSweepInterval:  time.Hour,
		HealthCheckInterval: 30 * time.Second,
		RefreshSchedule:     "0 6 * * *",
		MetricsAddr:         ":9090",
		HealthAddr:          ":8081",
		LogLevel:            "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lays environment overrides over the current values.
func (c *Config) applyEnv() {
	c.FeedAPIBaseURL = pkgconfig.GetEnvString("FEED_API_BASE_URL", c.FeedAPIBaseURL)
	c.PushWebSocketURL = pkgconfig.GetEnvString("PUSH_WEBSOCKET_URL", c.PushWebSocketURL)
	c.PushStream = pkgconfig.GetEnvString("PUSH_STREAM", c.PushStream)
	c.PollInterval = pkgconfig.GetEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.FreshWindow = pkgconfig.GetEnvDuration("FRESH_WINDOW", c.FreshWindow)
	c.TradingEconomicsURL = pkgconfig.GetEnvString("TRADING_ECONOMICS_URL", c.TradingEconomicsURL)
	c.EnableTradingEconomics = pkgconfig.GetEnvBool("ENABLE_TRADING_ECONOMICS", c.EnableTradingEconomics)
	c.AnalyzerProvider = pkgconfig.GetEnvString("ANALYZER_PROVIDER", c.AnalyzerProvider)
	c.EnableContentFetch = pkgconfig.GetEnvBool("ENABLE_CONTENT_FETCH", c.EnableContentFetch)
	c.MinContentLength = pkgconfig.GetEnvInt("MIN_CONTENT_LENGTH", c.MinContentLength)
	c.CacheMaxSize = pkgconfig.GetEnvInt("CACHE_MAX_SIZE", c.CacheMaxSize)
	c.CacheMaxAge = pkgconfig.GetEnvDuration("CACHE_MAX_AGE", c.CacheMaxAge)
	c.CacheSweepInterval = pkgconfig.GetEnvDuration("CACHE_SWEEP_INTERVAL", c.CacheSweepInterval)
	c.HealthCheckInterval = pkgconfig.GetEnvDuration("HEALTH_CHECK_INTERVAL", c.HealthCheckInterval)
	c.RefreshSchedule = pkgconfig.GetEnvString("REFRESH_SCHEDULE", c.RefreshSchedule)
	c.MetricsAddr = pkgconfig.GetEnvString("METRICS_ADDR", c.MetricsAddr)
	c.HealthAddr = pkgconfig.GetEnvString("HEALTH_ADDR", c.HealthAddr)
	c.LogLevel = pkgconfig.GetEnvString("LOG_LEVEL", c.LogLevel)

	// Secrets are environment-only.
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.ClaudeAPIKey = os.Getenv("ANTHROPIC_API_KEY")
}

// Validate checks the configuration. Fail-closed: a broken configuration
// refuses to start rather than running with surprising values.
func (c *Config) Validate() error {
	if c.FeedAPIBaseURL == "" {
		return fmt.Errorf("feed_api_base_url is required")
	}
	if err := pkgconfig.ValidatePositiveDuration(c.PollInterval); err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.FreshWindow); err != nil {
		return fmt.Errorf("invalid fresh_window: %w", err)
	}
	if err := pkgconfig.ValidateDurationRange(c.HealthCheckInterval, time.Second, time.Hour); err != nil {
		return fmt.Errorf("invalid health_check_interval: %w", err)
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("cache_max_size must be positive, got %d", c.CacheMaxSize)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.CacheMaxAge); err != nil {
		return fmt.Errorf("invalid cache_max_age: %w", err)
	}

	switch c.AnalyzerProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for analyzer_provider %q", c.AnalyzerProvider)
		}
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for analyzer_provider %q", c.AnalyzerProvider)
		}
	case ProviderNoop:
	default:
		return fmt.Errorf("unknown analyzer_provider %q", c.AnalyzerProvider)
	}

	return nil
}

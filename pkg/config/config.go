// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/client"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/logging"
	"github.com/Sternrassler/marketplace-search/pkg/pagination"
	"github.com/caarlos0/env/v11"
)

// Config holds all settings of the search proxy.
type Config struct {
	// Backend
	BaseURL     string        `env:"SEARCH_BASE_URL" envDefault:"http://localhost:9000"`
	UserAgent   string        `env:"SEARCH_USER_AGENT" envDefault:"marketplace-search/0.1.0"`
	Token       string        `env:"SEARCH_TOKEN"`
	HTTPTimeout time.Duration `env:"SEARCH_HTTP_TIMEOUT" envDefault:"15s"`

	// Session storage. An empty address selects in-process storage.
	RedisAddr     string `env:"SEARCH_REDIS_ADDR"`
	RedisPassword string `env:"SEARCH_REDIS_PASSWORD"`
	RedisDB       int    `env:"SEARCH_REDIS_DB" envDefault:"0"`
	SessionPrefix string `env:"SEARCH_SESSION_PREFIX" envDefault:"search:session:"`

	// Logging
	LogLevel  string `env:"SEARCH_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"SEARCH_LOG_PRETTY" envDefault:"false"`

	// Pagination
	PageSize       int           `env:"SEARCH_PAGE_SIZE" envDefault:"20"`
	MaxPages       int           `env:"SEARCH_MAX_PAGES" envDefault:"10"`
	VirtualLatency time.Duration `env:"SEARCH_VIRTUAL_LATENCY" envDefault:"300ms"`
	SnapshotTTL    time.Duration `env:"SEARCH_SNAPSHOT_TTL" envDefault:"30m"`

	// Cache windows
	SearchStaleTime   time.Duration `env:"SEARCH_CACHE_SEARCH_STALE" envDefault:"2m"`
	SearchGCTime      time.Duration `env:"SEARCH_CACHE_SEARCH_GC" envDefault:"10m"`
	InfiniteStaleTime time.Duration `env:"SEARCH_CACHE_INFINITE_STALE" envDefault:"2m"`
	InfiniteGCTime    time.Duration `env:"SEARCH_CACHE_INFINITE_GC" envDefault:"10m"`
	SweepInterval     time.Duration `env:"SEARCH_CACHE_SWEEP_INTERVAL" envDefault:"1m"`

	// Retry
	RetryAttempts       int           `env:"SEARCH_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInitialBackoff time.Duration `env:"SEARCH_RETRY_INITIAL_BACKOFF" envDefault:"1s"`
	RetryMaxBackoff     time.Duration `env:"SEARCH_RETRY_MAX_BACKOFF" envDefault:"30s"`

	// RateLimitMaxWait is the longest a request waits out a backend cooldown.
	RateLimitMaxWait time.Duration `env:"SEARCH_RATE_LIMIT_MAX_WAIT" envDefault:"5s"`

	// Server
	Port string `env:"SEARCH_PORT" envDefault:"8080"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("SEARCH_BASE_URL is required")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("SEARCH_PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("SEARCH_MAX_PAGES must be positive, got %d", c.MaxPages)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("SEARCH_RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts)
	}
	if c.SearchGCTime < c.SearchStaleTime || c.InfiniteGCTime < c.InfiniteStaleTime {
		return fmt.Errorf("cache GC window must not be shorter than its stale window")
	}
	return nil
}

// Client returns the HTTP client configuration.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig(c.BaseURL, c.UserAgent)
	cfg.Token = c.Token
	if c.HTTPTimeout > 0 {
		cfg.Timeout = c.HTTPTimeout
	}
	return cfg
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

// Pagination returns the engine configuration.
func (c Config) Pagination() pagination.Config {
	return pagination.Config{
		MaxPages:       c.MaxPages,
		PageSize:       c.PageSize,
		VirtualLatency: c.VirtualLatency,
		SnapshotTTL:    c.SnapshotTTL,
	}
}

// Retry returns the fetcher retry configuration.
func (c Config) Retry() fetcher.RetryConfig {
	cfg := fetcher.DefaultRetryConfig()
	cfg.MaxAttempts = c.RetryAttempts
	cfg.InitialBackoff = c.RetryInitialBackoff
	cfg.MaxBackoff = c.RetryMaxBackoff
	return cfg
}

// StoreOptions returns the cache store policies with the configured windows.
func (c Config) StoreOptions() []cache.Option {
	searchPolicy := cache.DefaultPolicy(cache.ModeSearch)
	searchPolicy.StaleTime = c.SearchStaleTime
	searchPolicy.GCTime = c.SearchGCTime

	infinitePolicy := cache.DefaultPolicy(cache.ModeInfinite)
	infinitePolicy.StaleTime = c.InfiniteStaleTime
	infinitePolicy.GCTime = c.InfiniteGCTime

	return []cache.Option{
		cache.WithPolicy(cache.ModeSearch, searchPolicy),
		cache.WithPolicy(cache.ModeInfinite, infinitePolicy),
	}
}

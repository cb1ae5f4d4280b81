// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Service is attached to every entry as "service" when set.
	Service string

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Service: "marketplace-search",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
// Component loggers derived afterwards with NewLogger inherit its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: paging and cache detail
//   - Cache hit/miss, eviction, sweep
//   - Page appended (page, rows, total_pages)
//   - Virtual page sliced or resumed
//
// Info: normal operation events
//   - Image search snapshot seeded
//   - Fallback exhausted the virtual source
//   - Server startup/shutdown
//
// Warn: degraded but running
//   - Retry attempts
//   - Fetch discarded after failure, background refresh failed
//   - Unreadable snapshot, session storage errors
//   - Backend cooldown started (status, cooldown)
//
// Error: needs attention
//   - Retries exhausted on a user-facing request
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component (page-fetcher, cache-store, paginator, search-client, rate-limit)
//   - cache_key: "<mode>:<params>" key of a sequence
//   - page: page number
//   - error_class: client, server, rate_limit, network
//   - snapshot_key: session storage key of a virtual source
//   - duration: elapsed time in milliseconds

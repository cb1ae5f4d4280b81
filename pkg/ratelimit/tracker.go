package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for backend throttling.
var (
	cooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "search_rate_limit_cooldown_seconds",
		Help: "Length of the most recent backend cooldown",
	})

	blocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_rate_limit_blocks_total",
		Help: "Requests failed fast because the backend cooldown exceeded the max wait",
	})

	waitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_rate_limit_waits_total",
		Help: "Requests delayed until the backend cooldown ended",
	})
)

// ErrBlocked is matched by every BlockedError.
var ErrBlocked = errors.New("backend cooldown active")

// BlockedError is returned when a request would have to wait longer than
// the tracker's max wait.
type BlockedError struct {
	Until     time.Time
	Remaining time.Duration
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	return fmt.Sprintf("backend throttled for another %s", e.Remaining.Round(time.Millisecond))
}

// Unwrap returns ErrBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}

// StatusCode reports 429 so the failure is classified as rate limiting.
func (e *BlockedError) StatusCode() int {
	return http.StatusTooManyRequests
}

// Tracker records backend cooldowns and gates requests on them.
type Tracker struct {
	redis   *redis.Client
	key     string
	maxWait time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu    sync.Mutex
	local State
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxWait sets the longest a request waits out a cooldown.
func WithMaxWait(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.maxWait = d
		}
	}
}

// WithRedisKey sets the key the shared cooldown is stored under.
func WithRedisKey(key string) Option {
	return func(t *Tracker) {
		if key != "" {
			t.key = key
		}
	}
}

// WithClock sets the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. A nil redisClient keeps the cooldown in process.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		redis:   redisClient,
		key:     DefaultRedisKey,
		maxWait: DefaultMaxWait,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState returns the current cooldown, merging the shared Redis deadline
// when one is configured. On a Redis error the local state is returned
// together with the error.
func (t *Tracker) GetState(ctx context.Context) (State, error) {
	t.mu.Lock()
	state := t.local
	t.mu.Unlock()

	if t.redis == nil {
		return state, nil
	}

	ms, err := t.redis.Get(ctx, t.key).Int64()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("get shared cooldown: %w", err)
	}

	if shared := time.UnixMilli(ms); shared.After(state.BlockedUntil) {
		state.BlockedUntil = shared
	}
	return state, nil
}

// UpdateFromResponse starts a cooldown when status signals throttling.
// Cooldowns only ever extend; a shorter Retry-After never shortens one.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if !IsThrottlingStatus(status) {
		return nil
	}

	now := t.now()
	d, ok := ParseRetryAfter(headers.Get("Retry-After"), now)
	if !ok {
		d = DefaultCooldown
	}
	until := now.Add(d)

	t.mu.Lock()
	if until.After(t.local.BlockedUntil) {
		t.local = State{BlockedUntil: until, LastUpdate: now, Status: status}
	}
	t.mu.Unlock()

	cooldownSeconds.Set(d.Seconds())
	t.logger.Warn().
		Int("status", status).
		Dur("cooldown", d).
		Time("blocked_until", until).
		Msg("Backend throttling, starting cooldown")

	if t.redis == nil || d <= 0 {
		return nil
	}

	current, err := t.redis.Get(ctx, t.key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get shared cooldown: %w", err)
	}
	if err == nil && !until.After(time.UnixMilli(current)) {
		return nil
	}
	if err := t.redis.Set(ctx, t.key, until.UnixMilli(), d).Err(); err != nil {
		return fmt.Errorf("store shared cooldown: %w", err)
	}
	return nil
}

// Wait blocks until the cooldown has passed. Cooldowns longer than the max
// wait fail immediately with a *BlockedError. A Redis failure does not block
// requests; the local state is used instead.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Shared cooldown unavailable, using local state")
	}

	remaining := state.TimeUntilReset(t.now())
	if remaining <= 0 {
		return nil
	}

	if remaining > t.maxWait {
		blocksTotal.Inc()
		t.logger.Debug().
			Dur("remaining", remaining).
			Msg("Backend cooldown exceeds max wait, failing fast")
		return &BlockedError{Until: state.BlockedUntil, Remaining: remaining}
	}

	waitsTotal.Inc()
	t.logger.Debug().Dur("remaining", remaining).Msg("Waiting out backend cooldown")

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

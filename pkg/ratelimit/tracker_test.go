package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func retryAfter(v string) http.Header {
	h := http.Header{}
	h.Set("Retry-After", v)
	return h
}

// setupTestRedis creates a test Redis client against a local instance.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestTracker_UpdateFromResponse(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		status      int
		header      http.Header
		wantBlocked time.Duration
	}{
		{name: "ok response", status: http.StatusOK, header: retryAfter("30"), wantBlocked: 0},
		{name: "server error", status: http.StatusInternalServerError, header: retryAfter("30"), wantBlocked: 0},
		{name: "429 with retry-after", status: http.StatusTooManyRequests, header: retryAfter("30"), wantBlocked: 30 * time.Second},
		{name: "503 with retry-after", status: http.StatusServiceUnavailable, header: retryAfter("4"), wantBlocked: 4 * time.Second},
		{name: "429 without retry-after", status: http.StatusTooManyRequests, header: http.Header{}, wantBlocked: DefaultCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &testClock{now: start}
			tracker := NewTracker(nil, zerolog.Nop(), WithClock(clock.Now))

			if err := tracker.UpdateFromResponse(context.Background(), tt.status, tt.header); err != nil {
				t.Fatalf("UpdateFromResponse() error = %v", err)
			}

			state, err := tracker.GetState(context.Background())
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if got := state.TimeUntilReset(start); got != tt.wantBlocked {
				t.Errorf("cooldown = %v, want %v", got, tt.wantBlocked)
			}
		})
	}
}

func TestTracker_CooldownOnlyExtends(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewTracker(nil, zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter("60"))
	tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter("5"))

	state, _ := tracker.GetState(ctx)
	if got := state.TimeUntilReset(clock.Now()); got != time.Minute {
		t.Errorf("cooldown = %v, want 1m", got)
	}
	if state.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", state.Status)
	}
}

func TestTracker_WaitNotBlocked(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())

	if err := tracker.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestTracker_WaitFailsFastBeyondMaxWait(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tracker := NewTracker(nil, zerolog.Nop(), WithClock(clock.Now), WithMaxWait(time.Second))
	ctx := context.Background()

	tracker.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter("30"))

	err := tracker.Wait(ctx)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("Wait() error = %v, want ErrBlocked", err)
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %T", err)
	}
	if blocked.Remaining != 30*time.Second {
		t.Errorf("Remaining = %v, want 30s", blocked.Remaining)
	}
	if blocked.StatusCode() != http.StatusTooManyRequests {
		t.Errorf("StatusCode() = %d, want 429", blocked.StatusCode())
	}

	clock.Advance(31 * time.Second)
	if err := tracker.Wait(ctx); err != nil {
		t.Errorf("Wait() after cooldown error = %v, want nil", err)
	}
}

func TestTracker_WaitSleepsShortCooldown(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	ctx := context.Background()

	// Retry-After has second granularity; set a sub-second cooldown directly.
	tracker.mu.Lock()
	tracker.local = State{BlockedUntil: time.Now().Add(50 * time.Millisecond)}
	tracker.mu.Unlock()

	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Wait() returned after %v, expected to wait out the cooldown", elapsed)
	}
}

func TestTracker_WaitRespectsContext(t *testing.T) {
	tracker := NewTracker(nil, zerolog.Nop())
	tracker.UpdateFromResponse(context.Background(), http.StatusTooManyRequests, retryAfter("3"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tracker.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTracker_RedisSharesCooldown(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	first := NewTracker(client, zerolog.Nop(), WithMaxWait(time.Second))
	second := NewTracker(client, zerolog.Nop(), WithMaxWait(time.Second))

	if err := first.UpdateFromResponse(ctx, http.StatusTooManyRequests, retryAfter("30")); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsBlocked(time.Now()) {
		t.Error("second tracker should see the shared cooldown")
	}
	if err := second.Wait(ctx); !errors.Is(err, ErrBlocked) {
		t.Errorf("Wait() error = %v, want ErrBlocked", err)
	}

	ttl, err := client.PTTL(ctx, DefaultRedisKey).Result()
	if err != nil {
		t.Fatalf("PTTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("shared key TTL = %v, want within (0, 30s]", ttl)
	}
}

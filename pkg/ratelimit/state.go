// Package ratelimit tracks backend throttling signals and gates requests
// while the search backend has asked clients to back off.
//
// A 429 or 503 response carrying Retry-After starts a cooldown. The cooldown
// is kept in process and, when Redis is configured, shared with every other
// instance through a key that expires together with the cooldown.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRedisKey holds the shared cooldown deadline in unix milliseconds.
const DefaultRedisKey = "search:rate_limit:blocked_until"

const (
	// DefaultMaxWait is the longest a request waits out a cooldown before
	// failing with a BlockedError.
	DefaultMaxWait = 5 * time.Second

	// DefaultCooldown applies when a throttling response has no usable Retry-After.
	DefaultCooldown = time.Second

	// MaxCooldown bounds a Retry-After value.
	MaxCooldown = 10 * time.Minute
)

// State is the current throttling state of the backend.
type State struct {
	// BlockedUntil is when requests may be sent again. Zero when not throttled.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when the last throttling response was seen.
	LastUpdate time.Time `json:"last_update"`

	// Status is the HTTP status that started the cooldown.
	Status int `json:"status,omitempty"`
}

// IsBlocked reports whether the cooldown is still running at now.
func (s State) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilReset returns the remaining cooldown, or 0 once it has passed.
func (s State) TimeUntilReset(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsThrottlingStatus reports whether status signals backend throttling.
func IsThrottlingStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ParseRetryAfter parses a Retry-After header in delta-seconds or HTTP-date
// form. The result is capped at MaxCooldown.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs) * time.Second
	} else {
		at, err := http.ParseTime(value)
		if err != nil {
			return 0, false
		}
		d = at.Sub(now)
		if d < 0 {
			d = 0
		}
	}

	if d > MaxCooldown {
		d = MaxCooldown
	}
	return d, true
}

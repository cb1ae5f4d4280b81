package cache

import (
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// Freshness classifies an entry against the current time.
type Freshness int

const (
	// Fresh entries are served without refetch.
	Fresh Freshness = iota

	// Stale entries are served immediately; a background refresh may follow.
	Stale

	// Expired entries are past their free deadline and eligible for eviction.
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Entry is the cached state of one key.
type Entry struct {
	// Sequence holds the pages fetched so far.
	Sequence search.Sequence

	// LastAccessed is the last time the entry was read or written.
	LastAccessed time.Time

	// StaleAfter is when the entry stops being fresh.
	StaleAfter time.Time

	// FreeAfter is when an unsubscribed entry may be evicted.
	FreeAfter time.Time
}

// Freshness returns the entry's freshness at now.
func (e *Entry) Freshness(now time.Time) Freshness {
	switch {
	case now.After(e.FreeAfter):
		return Expired
	case now.After(e.StaleAfter):
		return Stale
	default:
		return Fresh
	}
}

// IsStale returns true once the entry is past StaleAfter.
func (e *Entry) IsStale(now time.Time) bool {
	return now.After(e.StaleAfter)
}

// TTL returns the time until the entry becomes stale.
// Returns 0 if already stale.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.StaleAfter.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

package cache

import "time"

// Policy holds the freshness and fetch behavior of one cache namespace.
type Policy struct {
	// StaleTime is how long an entry is served without refetch.
	StaleTime time.Duration

	// GCTime is how long an unsubscribed entry survives after its last access.
	GCTime time.Duration

	// BackgroundRefresh enables refetching stale entries while serving them.
	BackgroundRefresh bool

	// Retry enables retrying transient fetch failures.
	Retry bool
}

// DefaultPolicy returns the policy for a namespace.
//
// Infinite scrolling shares the stale window with basic search but never
// refreshes in the background or retries, so fast scrolling cannot insert
// duplicate pages.
func DefaultPolicy(mode Mode) Policy {
	switch mode {
	case ModeInfinite:
		return Policy{
			StaleTime:         2 * time.Minute,
			GCTime:            10 * time.Minute,
			BackgroundRefresh: false,
			Retry:             false,
		}
	default:
		return Policy{
			StaleTime:         2 * time.Minute,
			GCTime:            10 * time.Minute,
			BackgroundRefresh: true,
			Retry:             true,
		}
	}
}

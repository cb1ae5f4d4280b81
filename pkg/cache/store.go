package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store is the in-process arena of paginated sequences keyed by Key.
//
// All mutation goes through Put, Touch and Evict. Readers get copies of
// entries; the sequences inside are copy-on-write and safe to share.
type Store struct {
	mu          sync.Mutex
	entries     map[Key]*Entry
	subscribers map[Key]int
	policies    map[Mode]Policy
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy overrides the policy of one namespace.
func WithPolicy(mode Mode, p Policy) Option {
	return func(s *Store) {
		s.policies[mode] = p
	}
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store with the default policies.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:     make(map[Key]*Entry),
		subscribers: make(map[Key]int),
		policies: map[Mode]Policy{
			ModeSearch:   DefaultPolicy(ModeSearch),
			ModeInfinite: DefaultPolicy(ModeInfinite),
		},
		now:    time.Now,
		logger: log.With().Str("component", "cache-store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy applied to a namespace.
func (s *Store) Policy(mode Mode) Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policyLocked(mode)
}

func (s *Store) policyLocked(mode Mode) Policy {
	if p, ok := s.policies[mode]; ok {
		return p
	}
	return DefaultPolicy(mode)
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get retrieves an entry by key and records the access.
// An expired entry without subscribers is evicted and reported as a miss.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok {
		CacheMisses.WithLabelValues(string(key.Mode)).Inc()
		return Entry{}, false
	}

	if entry.Freshness(now) == Expired && s.subscribers[key] == 0 {
		s.evictLocked(key, "expired")
		CacheMisses.WithLabelValues(string(key.Mode)).Inc()
		return Entry{}, false
	}

	entry.LastAccessed = now
	if free := now.Add(s.policyLocked(key.Mode).GCTime); free.After(entry.FreeAfter) {
		entry.FreeAfter = free
	}

	CacheHits.WithLabelValues(string(key.Mode)).Inc()
	return *entry, true
}

// Peek returns an entry without recording an access.
func (s *Store) Peek(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Put stores a sequence and restarts its freshness windows.
func (s *Store) Put(key Key, seq search.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	policy := s.policyLocked(key.Mode)

	if _, exists := s.entries[key]; !exists {
		CacheEntries.Inc()
	}
	s.entries[key] = &Entry{
		Sequence:     seq,
		LastAccessed: now,
		StaleAfter:   now.Add(policy.StaleTime),
		FreeAfter:    now.Add(policy.GCTime),
	}

	s.logger.Debug().
		Str("cache_key", key.String()).
		Int("pages", seq.Len()).
		Dur("ttl", policy.StaleTime).
		Msg("Stored sequence")
}

// Touch refreshes LastAccessed, StaleAfter and FreeAfter of an existing entry.
// Returns false if the key is not cached.
func (s *Store) Touch(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	now := s.now()
	policy := s.policyLocked(key.Mode)
	entry.LastAccessed = now
	entry.StaleAfter = now.Add(policy.StaleTime)
	entry.FreeAfter = now.Add(policy.GCTime)
	return true
}

// Evict removes an entry.
func (s *Store) Evict(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key, "explicit")
}

func (s *Store) evictLocked(key Key, reason string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	CacheEntries.Dec()
	CacheEvictions.WithLabelValues(reason).Inc()

	s.logger.Debug().
		Str("cache_key", key.String()).
		Str("reason", reason).
		Msg("Evicted entry")
}

// Subscribe registers an active consumer of key. The returned release func
// unregisters it; releasing the last subscriber restarts the free deadline.
// Calling release more than once has no further effect.
func (s *Store) Subscribe(key Key) (release func()) {
	s.mu.Lock()
	s.subscribers[key]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			s.subscribers[key]--
			if s.subscribers[key] > 0 {
				return
			}
			delete(s.subscribers, key)
			if entry, ok := s.entries[key]; ok {
				now := s.now()
				entry.LastAccessed = now
				entry.FreeAfter = now.Add(s.policyLocked(key.Mode).GCTime)
			}
		})
	}
}

// Subscribers returns the number of active consumers of key.
func (s *Store) Subscribers(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers[key]
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts every expired entry that has no subscriber and returns the evicted keys.
func (s *Store) Sweep() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var evicted []Key
	for key, entry := range s.entries {
		if s.subscribers[key] > 0 || entry.Freshness(now) != Expired {
			continue
		}
		s.evictLocked(key, "expired")
		evicted = append(evicted, key)
	}

	if len(evicted) > 0 {
		s.logger.Info().
			Int("evicted", len(evicted)).
			Int("remaining", len(s.entries)).
			Msg("Cache sweep complete")
	}
	return evicted
}

// Run sweeps the store every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("Cache sweeper stopping (context cancelled)")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

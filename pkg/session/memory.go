package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps session data in process memory.
// It is used when no Redis instance is configured.
type MemoryStorage struct {
	cache *gocache.Cache
}

// NewMemoryStorage creates an in-process storage that purges expired
// keys every cleanupInterval.
func NewMemoryStorage(cleanupInterval time.Duration) *MemoryStorage {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &MemoryStorage{
		cache: gocache.New(DefaultTTL, cleanupInterval),
	}
}

// Get returns a copy of the bytes stored under key.
func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := v.([]byte)
	if !ok {
		StorageErrors.WithLabelValues("get").Inc()
		return nil, ErrMalformedSnapshot
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a copy of data for ttl.
func (s *MemoryStorage) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.cache.Set(key, buf, ttl)
	return nil
}

// Delete removes key.
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Len returns the number of stored keys, including expired ones not yet purged.
func (s *MemoryStorage) Len() int {
	return s.cache.ItemCount()
}

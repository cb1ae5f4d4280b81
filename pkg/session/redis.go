package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys in Redis.
const DefaultKeyPrefix = "search:session"

// RedisStorage stores session data in Redis with per-key TTL.
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
// An empty prefix selects DefaultKeyPrefix.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

func (s *RedisStorage) key(key string) string {
	return s.prefix + ":" + key
}

// Get retrieves the bytes stored under key.
// Returns ErrNotFound if the key doesn't exist or has expired.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StorageErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores data with the given TTL; Redis removes it when it expires.
func (s *RedisStorage) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := s.redis.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		StorageErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		StorageErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Extend updates the TTL of an existing key.
// Returns ErrNotFound if the key doesn't exist.
func (s *RedisStorage) Extend(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.redis.Expire(ctx, s.key(key), ttl).Result()
	if err != nil {
		StorageErrors.WithLabelValues("expire").Inc()
		return fmt.Errorf("redis expire: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

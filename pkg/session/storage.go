// Package session provides the durable, session-scoped storage that holds
// one-shot search results (the image-search snapshot) across navigation.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested key is not stored
	ErrNotFound = errors.New("session key not found")

	// ErrMalformedSnapshot indicates stored data that cannot be decoded as a snapshot
	ErrMalformedSnapshot = errors.New("malformed session snapshot")
)

// DefaultTTL is used when Set is called with a non-positive ttl.
const DefaultTTL = 30 * time.Minute

// Storage is a byte-oriented key/value store with expiry.
type Storage interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data under key for ttl.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

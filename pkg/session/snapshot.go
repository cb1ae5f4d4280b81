package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultSnapshotKey is the well-known key the image search result is stored under.
const DefaultSnapshotKey = "imageSearchResult"

// Snapshot is a complete one-shot result set plus the server's metadata.
// Total may exceed len(Rows) when the server under-delivered.
type Snapshot struct {
	Rows       []json.RawMessage `json:"rows"`
	Total      *int              `json:"total,omitempty"`
	PageSize   *int              `json:"pageSize,omitempty"`
	SearchTime *int64            `json:"searchTime,omitempty"`
}

// DeclaredTotal returns the number of rows the result set claims to contain.
// It never reports fewer rows than are actually held.
func (s Snapshot) DeclaredTotal() int {
	if s.Total != nil && *s.Total > len(s.Rows) {
		return *s.Total
	}
	return len(s.Rows)
}

// LoadSnapshot reads and decodes the snapshot stored under key.
// Returns ErrNotFound when absent and ErrMalformedSnapshot when undecodable.
func LoadSnapshot(ctx context.Context, storage Storage, key string) (Snapshot, error) {
	data, err := storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			SnapshotLoads.WithLabelValues("missing").Inc()
		}
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		SnapshotLoads.WithLabelValues("malformed").Inc()
		StorageErrors.WithLabelValues("decode").Inc()
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	SnapshotLoads.WithLabelValues("ok").Inc()
	return snap, nil
}

// SaveSnapshot encodes snap and stores it under key for ttl.
func SaveSnapshot(ctx context.Context, storage Storage, key string, snap Snapshot, ttl time.Duration) error {
	if snap.Rows == nil {
		snap.Rows = []json.RawMessage{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return storage.Set(ctx, key, data, ttl)
}

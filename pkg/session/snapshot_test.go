package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestSnapshot_DeclaredTotal(t *testing.T) {
	rows := []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`), json.RawMessage(`3`)}

	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{name: "no total", snap: Snapshot{Rows: rows}, want: 3},
		{name: "total matches", snap: Snapshot{Rows: rows, Total: intPtr(3)}, want: 3},
		{name: "server under-delivered", snap: Snapshot{Rows: rows, Total: intPtr(50)}, want: 50},
		{name: "server under-counted", snap: Snapshot{Rows: rows, Total: intPtr(1)}, want: 3},
		{name: "empty", snap: Snapshot{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.DeclaredTotal(); got != tt.want {
				t.Errorf("DeclaredTotal() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSnapshot_SaveAndLoad(t *testing.T) {
	storage := NewMemoryStorage(time.Minute)
	ctx := context.Background()

	snap := Snapshot{
		Rows:     []json.RawMessage{json.RawMessage(`{"id":1}`), json.RawMessage(`{"id":2}`)},
		Total:    intPtr(2),
		PageSize: intPtr(20),
	}
	if err := SaveSnapshot(ctx, storage, DefaultSnapshotKey, snap, time.Minute); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	got, err := LoadSnapshot(ctx, storage, DefaultSnapshotKey)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if len(got.Rows) != 2 || string(got.Rows[1]) != `{"id":2}` {
		t.Errorf("rows = %s", got.Rows)
	}
	if got.PageSize == nil || *got.PageSize != 20 {
		t.Errorf("PageSize = %v, want 20", got.PageSize)
	}
	if got.SearchTime != nil {
		t.Errorf("SearchTime = %v, want nil", *got.SearchTime)
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	storage := NewMemoryStorage(time.Minute)
	ctx := context.Background()

	if _, err := LoadSnapshot(ctx, storage, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	malformed := map[string]string{
		"not json":         `{rows:`,
		"rows wrong type":  `{"rows":"nope"}`,
		"total wrong type": `{"rows":[],"total":"ten"}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_ = storage.Set(ctx, name, []byte(raw), time.Minute)
			if _, err := LoadSnapshot(ctx, storage, name); !errors.Is(err, ErrMalformedSnapshot) {
				t.Errorf("expected ErrMalformedSnapshot, got %v", err)
			}
		})
	}
}

package cache

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// Mode selects the cache namespace and its freshness policy.
type Mode string

const (
	// ModeSearch is the basic search namespace: one entry per page, cursor included.
	ModeSearch Mode = "search"

	// ModeInfinite is the incremental-loading namespace: one entry per query,
	// holding the growing sequence of pages.
	ModeInfinite Mode = "infinite"
)

// Key identifies one logical query in the store.
// It is comparable and can be used directly as a map key.
type Key struct {
	// Mode is the namespace the key belongs to.
	Mode Mode

	// Params is the canonical serialization of the descriptor.
	Params string
}

// String generates the printable form of the key.
// Format: mode:{canonical descriptor json}
//
// Example:
//
//	infinite:{"filters":{"category":"tea"},"keyword":"oolong","pageSize":20}
func (k Key) String() string {
	return string(k.Mode) + ":" + k.Params
}

// IsZero reports whether the key was never derived.
func (k Key) IsZero() bool {
	return k.Mode == "" && k.Params == ""
}

// DeriveKey builds the deterministic identity of a descriptor.
//
// Map keys are serialized in sorted order at every depth, so descriptors that
// differ only in field order derive the same key. In ModeInfinite the cursor
// fields are stripped first; otherwise every page would get its own entry.
func DeriveKey(mode Mode, d search.Descriptor) Key {
	if mode == ModeInfinite {
		d = d.Without(search.CursorFields...)
	}

	canonical := map[string]any{
		"keyword":  d.Keyword,
		"pageSize": d.PageSize,
	}
	if len(d.Filters) > 0 {
		canonical["filters"] = d.Filters
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Unserializable filter values; fmt also prints maps in key order.
		return Key{Mode: mode, Params: fmt.Sprintf("%v", canonical)}
	}
	return Key{Mode: mode, Params: string(data)}
}

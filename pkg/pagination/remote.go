package pagination

import (
	"context"
	"sync"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// Remote is one subscriber's handle on a server-paginated sequence.
// Handles for equal descriptors share one sequence and one in-flight fetch.
type Remote struct {
	engine *Engine

	mu      sync.Mutex
	desc    search.Descriptor
	key     cache.Key
	release func()
	closed  bool
}

// Remote creates a handle for d and subscribes it to d's cache key.
// An empty descriptor yields an idle handle.
func (e *Engine) Remote(d search.Descriptor) *Remote {
	r := &Remote{engine: e}
	r.bind(e.prepare(d))
	return r
}

// bind points the handle at d. The caller holds r.mu or owns r exclusively.
func (r *Remote) bind(d search.Descriptor) {
	r.desc = d
	r.key = cache.Key{}
	r.release = nil
	if d.IsEmpty() {
		return
	}
	r.key = cache.DeriveKey(cache.ModeInfinite, d)
	r.release = r.engine.subscribe(r.key)
}

func (r *Remote) current() (cache.Key, search.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.key.IsZero() {
		return cache.Key{}, search.Descriptor{}, false
	}
	return r.key, r.desc, true
}

// Key returns the cache key the handle is bound to (zero when idle).
func (r *Remote) Key() cache.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// State returns the current view of the handle's sequence.
func (r *Remote) State() State {
	key, _, ok := r.current()
	if !ok {
		return State{Status: StatusIdle}
	}
	return r.engine.remoteState(key)
}

// Load ensures page 1 is present, fetching it unless the cache already holds
// the sequence. Concurrent loads of the same key share one fetch.
// It returns when the page arrives or ctx ends; the fetch itself keeps
// running for other subscribers.
func (r *Remote) Load(ctx context.Context) State {
	key, d, ok := r.current()
	if !ok {
		return State{Status: StatusIdle}
	}

	// Infinite sequences are served as cached, stale or not.
	if entry, hit := r.engine.store.Get(key); hit && entry.Sequence.Len() > 0 {
		return r.engine.remoteState(key)
	}

	wait(ctx, r.engine.beginInitial(key, d))
	return r.engine.remoteState(key)
}

// LoadNextPage appends the next page. It is a no-op while any fetch for the
// key is in flight, after the last page, and once MaxPages is reached.
func (r *Remote) LoadNextPage(ctx context.Context) State {
	key, d, ok := r.current()
	if !ok {
		return State{Status: StatusIdle}
	}

	f := r.engine.beginNext(key, d)
	if f == nil {
		r.engine.logger.Debug().
			Str("cache_key", key.String()).
			Msg("Load next page dropped")
		return r.engine.remoteState(key)
	}

	wait(ctx, f)
	return r.engine.remoteState(key)
}

// SetQuery rebinds the handle to d. The previous key's in-flight fetch is
// cancelled when this handle was its sole subscriber. An empty d leaves the
// handle idle and discards the previous sequence under the same condition.
func (r *Remote) SetQuery(ctx context.Context, d search.Descriptor) State {
	d = r.engine.prepare(d)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return State{Status: StatusIdle}
	}
	oldKey, oldRelease := r.key, r.release
	if !d.IsEmpty() && cache.DeriveKey(cache.ModeInfinite, d) == oldKey {
		r.desc = d
		r.mu.Unlock()
		return r.Load(ctx)
	}
	r.bind(d)
	r.mu.Unlock()

	r.engine.leave(oldKey, oldRelease, d.IsEmpty())

	if d.IsEmpty() {
		return State{Status: StatusIdle}
	}
	return r.Load(ctx)
}

// Reset synchronously clears the sequence to its page-1 state, then runs
// the initial load again. It also clears a previous error.
func (r *Remote) Reset(ctx context.Context) State {
	key, d, ok := r.current()
	if !ok {
		return State{Status: StatusIdle}
	}

	wait(ctx, r.engine.restart(key, d))
	return r.engine.remoteState(key)
}

// Close unsubscribes the handle, cancelling a pending fetch when it was the
// sole subscriber. The cached sequence stays until the store frees it.
func (r *Remote) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	key, release := r.key, r.release
	r.release = nil
	r.mu.Unlock()

	r.engine.leave(key, release, false)
}

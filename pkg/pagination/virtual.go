package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/Sternrassler/marketplace-search/pkg/session"
	"github.com/rs/zerolog"
)

// Virtual re-paginates a one-shot result set held in session storage.
//
// Pages are sliced from the snapshot locally. When the snapshot is shorter
// than its declared total, the missing pages are fetched through the engine's
// fetcher using the original image payload and merged into the snapshot.
// Handles on the same key share one source, one sequence and one flight.
type Virtual struct {
	engine      *Engine
	storage     session.Storage
	snapshotKey string
	desc        search.Descriptor
	key         cache.Key
	logger      zerolog.Logger

	mu      sync.Mutex
	release func()
	active  bool
	closed  bool
}

// virtualSource is the in-memory snapshot of one virtual key.
// Its fields are guarded by the engine lock.
type virtualSource struct {
	storage     session.Storage
	snapshotKey string
	desc        search.Descriptor

	rows       []json.RawMessage
	declared   int
	pageSize   int
	searchTime int64
	exhausted  bool
}

// Virtual creates a handle that re-paginates the snapshot stored under
// snapshotKey. d is the original image search payload, used for fallback
// fetches. Call Activate to read the snapshot.
func (e *Engine) Virtual(storage session.Storage, snapshotKey string, d search.Descriptor) *Virtual {
	if storage == nil {
		panic("session storage cannot be nil")
	}
	if snapshotKey == "" {
		snapshotKey = session.DefaultSnapshotKey
	}
	d = d.Without(search.CursorFields...)
	return &Virtual{
		engine:      e,
		storage:     storage,
		snapshotKey: snapshotKey,
		desc:        d,
		key:         virtualKey(d, snapshotKey),
		logger:      e.logger.With().Str("snapshot_key", snapshotKey).Logger(),
	}
}

func virtualKey(d search.Descriptor, snapshotKey string) cache.Key {
	return cache.DeriveKey(cache.ModeInfinite, d.With("source", snapshotKey))
}

// Key returns the cache key the virtual sequence is written through to.
func (v *Virtual) Key() cache.Key {
	return v.key
}

// Activate reads the snapshot and synthesizes page 1. An absent or
// malformed snapshot yields an empty sequence and is only logged. A source
// already held by another handle, or pages cached for the same snapshot and
// payload, are resumed.
func (v *Virtual) Activate(ctx context.Context) State {
	snap, err := session.LoadSnapshot(ctx, v.storage, v.snapshotKey)
	switch {
	case errors.Is(err, session.ErrNotFound):
		v.logger.Debug().Msg("No snapshot stored, starting empty")
	case err != nil:
		v.logger.Warn().Err(err).Msg("Unreadable snapshot, starting empty")
	}
	if err != nil {
		snap = session.Snapshot{}
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return State{Status: StatusIdle}
	}
	if v.release == nil {
		v.release = v.engine.subscribe(v.key)
	}
	v.active = true
	v.mu.Unlock()

	e := v.engine
	e.mu.Lock()
	src, shared := e.sources[v.key]
	if !shared {
		src = e.newSource(v, snap)
		e.sources[v.key] = src
	}

	var seq search.Sequence
	if entry, ok := e.store.Get(v.key); ok {
		seq = entry.Sequence
	}
	ks, ok := e.keys[v.key]
	loading := ok && ks.flight != nil

	switch {
	case loading || src.resumable(seq):
		v.logger.Debug().Int("pages", seq.Len()).Bool("shared", shared).Msg("Resumed virtual sequence")
	case len(src.rows) > 0:
		e.store.Put(v.key, search.Sequence{}.Append(src.page(1)))
		PagesLoaded.WithLabelValues("virtual_local").Inc()
	default:
		e.store.Put(v.key, search.Sequence{})
	}

	v.logger.Debug().
		Int("rows", len(src.rows)).
		Int("declared_total", src.declared).
		Int("page_size", src.pageSize).
		Msg("Activated virtual sequence")
	e.mu.Unlock()

	return v.State()
}

// newSource resolves the page size (snapshot, then descriptor, then config)
// and wraps snap for sharing.
func (e *Engine) newSource(v *Virtual, snap session.Snapshot) *virtualSource {
	src := &virtualSource{
		storage:     v.storage,
		snapshotKey: v.snapshotKey,
		desc:        v.desc,
		rows:        snap.Rows,
		declared:    snap.DeclaredTotal(),
		pageSize:    e.config.PageSize,
	}
	if v.desc.PageSize > 0 {
		src.pageSize = v.desc.PageSize
	}
	if snap.PageSize != nil && *snap.PageSize > 0 {
		src.pageSize = *snap.PageSize
	}
	if snap.SearchTime != nil {
		src.searchTime = *snap.SearchTime
	}
	return src
}

// resumable reports whether a cached sequence was sliced from this source
// with the same page size.
func (s *virtualSource) resumable(seq search.Sequence) bool {
	if seq.Len() == 0 {
		return false
	}
	for i, p := range seq.Pages {
		if p.PageNum != i+1 || p.PageSize != s.pageSize {
			return false
		}
	}
	return len(seq.Rows()) <= len(s.rows)
}

// page synthesizes page pageNum from the in-memory snapshot.
func (s *virtualSource) page(pageNum int) search.Page {
	start := min((pageNum-1)*s.pageSize, len(s.rows))
	end := min(start+s.pageSize, len(s.rows))
	rows := make([]json.RawMessage, end-start)
	copy(rows, s.rows[start:end])
	return s.pageOf(pageNum, rows)
}

func (s *virtualSource) pageOf(pageNum int, rows []json.RawMessage) search.Page {
	return search.Page{
		Rows:       rows,
		Total:      s.declared,
		PageNum:    pageNum,
		PageSize:   s.pageSize,
		TotalPages: search.TotalPagesFor(s.declared, s.pageSize),
		SearchTime: s.searchTime,
	}
}

func (s *virtualSource) hasMore(seq search.Sequence) bool {
	return !s.exhausted && seq.Len()*s.pageSize < s.declared
}

func (s *virtualSource) snapshot() session.Snapshot {
	rows := make([]json.RawMessage, len(s.rows))
	copy(rows, s.rows)
	total := s.declared
	pageSize := s.pageSize
	snap := session.Snapshot{Rows: rows, Total: &total, PageSize: &pageSize}
	if s.searchTime > 0 {
		st := s.searchTime
		snap.SearchTime = &st
	}
	return snap
}

// State returns the current view of the virtual sequence.
func (v *Virtual) State() State {
	v.mu.Lock()
	idle := !v.active || v.closed
	v.mu.Unlock()
	if idle {
		return State{Status: StatusIdle}
	}
	return v.engine.virtualState(v.key)
}

func (e *Engine) virtualState(key cache.Key) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	var seq search.Sequence
	if entry, ok := e.store.Peek(key); ok {
		seq = entry.Sequence
	}
	status := StatusReady
	if ks, ok := e.keys[key]; ok && ks.flight != nil {
		status = StatusLoadingMore
	}

	st := stateOf(seq, status)
	if src, ok := e.sources[key]; ok {
		st.HasNextPage = src.hasMore(seq)
	}
	return st
}

// LoadNextPage appends the next virtual page. It is a no-op while a load for
// the key is running and once the declared total is covered. Fallback fetch
// failures are logged and end the sequence without entering an error state.
// It returns when the page is appended or ctx ends; the load itself keeps
// running for other subscribers.
func (v *Virtual) LoadNextPage(ctx context.Context) State {
	v.mu.Lock()
	idle := !v.active || v.closed
	v.mu.Unlock()
	if idle {
		return State{Status: StatusIdle}
	}

	f := v.engine.beginVirtual(v.key)
	if f == nil {
		v.logger.Debug().Msg("Load next virtual page dropped")
		return v.State()
	}

	wait(ctx, f)
	return v.State()
}

// beginVirtual starts the load of the next page of a virtual key, or returns
// nil when a load is running or the source is covered.
func (e *Engine) beginVirtual(key cache.Key) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.sources[key]
	if !ok {
		return nil
	}
	if ks, ok := e.keys[key]; ok && ks.flight != nil {
		return nil
	}
	var seq search.Sequence
	if entry, ok := e.store.Peek(key); ok {
		seq = entry.Sequence
	}
	if !src.hasMore(seq) {
		return nil
	}

	next := seq.NextPageNum()
	ctx, f := e.newFlightLocked(key, next)
	go e.runVirtual(ctx, key, src, f, (next-1)*src.pageSize)
	return f
}

// runVirtual slices or fetches page f.page of src and appends it if the
// flight is still current.
func (e *Engine) runVirtual(ctx context.Context, key cache.Key, src *virtualSource, f *flight, start int) {
	defer close(f.done)
	defer InFlight.Dec()
	defer f.cancel()

	logger := e.logger.With().
		Str("snapshot_key", src.snapshotKey).
		Int("page", f.page).
		Logger()

	e.mu.Lock()
	local := start < len(src.rows)
	d := src.desc
	d.PageSize = src.pageSize
	e.mu.Unlock()

	var fetched search.Page
	var err error
	if local {
		err = e.sleepLatency(ctx)
	} else {
		fetched, err = e.fetcher.FetchPage(ctx, d, f.page, e.store.Policy(cache.ModeInfinite).Retry)
	}

	e.mu.Lock()
	ks, ok := e.keys[key]
	if !ok || ks.flight != f || e.sources[key] != src {
		e.mu.Unlock()
		DiscardedResults.WithLabelValues("superseded").Inc()
		logger.Debug().Msg("Discarded result of superseded virtual load")
		return
	}
	ks.flight = nil

	if ctx.Err() != nil || errors.Is(err, fetcher.ErrCancelled) {
		e.mu.Unlock()
		DiscardedResults.WithLabelValues("cancelled").Inc()
		return
	}

	var seq search.Sequence
	if entry, ok := e.store.Peek(key); ok {
		seq = entry.Sequence
	}
	if f.page != seq.NextPageNum() {
		e.mu.Unlock()
		DiscardedResults.WithLabelValues("out_of_order").Inc()
		logger.Warn().Int("expected_page", seq.NextPageNum()).Msg("Discarded virtual page that does not follow the stored sequence")
		return
	}

	if local {
		delete(e.keys, key)
		e.store.Put(key, seq.Append(src.page(f.page)))
		e.mu.Unlock()
		PagesLoaded.WithLabelValues("virtual_local").Inc()
		return
	}

	if err != nil {
		src.exhausted = true
		e.mu.Unlock()
		logger.Warn().Err(err).Msg("Fallback fetch failed, virtual sequence ends here")
		return
	}
	if len(fetched.Rows) == 0 {
		src.exhausted = true
		e.mu.Unlock()
		logger.Info().Msg("Fallback returned no rows, virtual sequence ends here")
		return
	}

	rows := fetched.Rows
	if len(rows) > src.pageSize {
		rows = rows[:src.pageSize]
	}
	// A gap left by a short snapshot is not refilled; rows past it are served but not merged.
	merged := start == len(src.rows)
	if merged {
		src.rows = append(src.rows[:len(src.rows):len(src.rows)], rows...)
		if len(src.rows) > src.declared {
			src.declared = len(src.rows)
		}
	}
	page := src.pageOf(f.page, rows)
	if fetched.SearchTime > 0 {
		page.SearchTime = fetched.SearchTime
	}

	delete(e.keys, key)
	e.store.Put(key, seq.Append(page))
	var snap session.Snapshot
	if merged {
		snap = src.snapshot()
	}
	e.mu.Unlock()

	PagesLoaded.WithLabelValues("virtual_fallback").Inc()
	logger.Debug().
		Int("rows", len(rows)).
		Int("dropped_rows", len(fetched.Rows)-len(rows)).
		Int("snapshot_rows", len(snap.Rows)).
		Msg("Appended fallback page")

	if merged {
		if err := session.SaveSnapshot(ctx, src.storage, src.snapshotKey, snap, e.config.SnapshotTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist merged snapshot")
		}
	}
}

// sleepLatency waits out the simulated latency of a local slice.
func (e *Engine) sleepLatency(ctx context.Context) error {
	delay := e.config.VirtualLatency
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dropVirtual cancels a virtual key's load and forgets its source and pages.
func (e *Engine) dropVirtual(key cache.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(key)
	delete(e.sources, key)
	e.store.Evict(key)
}

// Reset cancels a running load for every handle on the key, discards the
// cached pages and activates again from the stored snapshot.
func (v *Virtual) Reset(ctx context.Context) State {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return State{Status: StatusIdle}
	}

	v.engine.dropVirtual(v.key)
	return v.Activate(ctx)
}

// Close unsubscribes the handle, cancelling a running load when it was the
// key's sole subscriber.
func (v *Virtual) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	release := v.release
	v.release = nil
	v.mu.Unlock()

	v.engine.leave(v.key, release, false)
}

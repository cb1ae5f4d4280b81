package pagination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Engine owns the per-key flight table shared by every paginator handle.
// All sequence mutation goes through the cache store.
type Engine struct {
	store   *cache.Store
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger

	// flights run on base so one caller's ctx cannot cancel a shared fetch
	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	keys    map[cache.Key]*keyState
	sources map[cache.Key]*virtualSource

	searches  singleflight.Group
	refreshes singleflight.Group
}

// keyState tracks the in-flight fetch and last error of one cache key.
type keyState struct {
	flight *flight
	err    error
}

// flight is one running page fetch.
type flight struct {
	page    int
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine over store, fetching pages through pf.
func NewEngine(store *cache.Store, pf PageFetcher, config Config, opts ...Option) *Engine {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if pf == nil {
		panic("page fetcher cannot be nil")
	}

	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		store:   store,
		fetcher: pf,
		config:  config.normalized(),
		logger:  log.With().Str("component", "paginator").Logger(),
		base:    base,
		stop:    stop,
		keys:    make(map[cache.Key]*keyState),
		sources: make(map[cache.Key]*virtualSource),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Store returns the engine's cache store.
func (e *Engine) Store() *cache.Store {
	return e.store
}

// Close cancels every in-flight fetch. Handles must not be used afterwards.
func (e *Engine) Close() {
	e.stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.keys {
		e.cancelLocked(key)
	}
}

// prepare strips cursor fields and applies the default page size.
func (e *Engine) prepare(d search.Descriptor) search.Descriptor {
	d = d.Without(search.CursorFields...)
	if d.PageSize <= 0 {
		d.PageSize = e.config.PageSize
	}
	return d
}

// subscribe registers a handle on key under the engine lock so the
// sole-subscriber check in leave is consistent.
func (e *Engine) subscribe(key cache.Key) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Subscribe(key)
}

// leave releases a handle's subscription. When it was the sole subscriber the
// key's in-flight fetch is cancelled and its virtual source dropped, and with
// discard set its sequence is evicted.
func (e *Engine) leave(key cache.Key, release func(), discard bool) {
	if release == nil {
		return
	}

	e.mu.Lock()
	if e.store.Subscribers(key) <= 1 {
		e.cancelLocked(key)
		delete(e.sources, key)
		if discard {
			e.store.Evict(key)
		}
	}
	release()
	e.mu.Unlock()
}

// cancelLocked aborts the key's flight and forgets its state.
// A cancelled flight finds itself superseded and writes nothing.
func (e *Engine) cancelLocked(key cache.Key) {
	ks, ok := e.keys[key]
	if !ok {
		return
	}
	if f := ks.flight; f != nil {
		f.cancel()
		e.logger.Debug().
			Str("cache_key", key.String()).
			Int("page", f.page).
			Msg("Cancelled in-flight fetch")
	}
	delete(e.keys, key)
}

// beginInitial returns the flight loading page 1 of key, joining one already
// running. It returns nil when the sequence already has pages or a later
// page is in flight.
func (e *Engine) beginInitial(key cache.Key, d search.Descriptor) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ks, ok := e.keys[key]; ok && ks.flight != nil {
		if ks.flight.page == 1 {
			return ks.flight
		}
		return nil
	}
	if entry, ok := e.store.Peek(key); ok && entry.Sequence.Len() > 0 {
		return nil
	}
	return e.launchLocked(key, d, 1)
}

// beginNext starts the fetch of the next page of key. A key allows one
// flight at a time; while one runs, or when no next page exists, it returns nil.
func (e *Engine) beginNext(key cache.Key, d search.Descriptor) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ks, ok := e.keys[key]; ok && ks.flight != nil {
		return nil
	}
	entry, ok := e.store.Peek(key)
	if !ok || entry.Sequence.Len() == 0 {
		return e.launchLocked(key, d, 1)
	}
	if !e.hasMore(entry.Sequence) {
		return nil
	}
	return e.launchLocked(key, d, entry.Sequence.NextPageNum())
}

// restart synchronously clears key to its page-1 state and starts the initial load.
func (e *Engine) restart(key cache.Key, d search.Descriptor) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked(key)
	e.store.Evict(key)
	return e.launchLocked(key, d, 1)
}

func (e *Engine) launchLocked(key cache.Key, d search.Descriptor, pageNum int) *flight {
	ctx, f := e.newFlightLocked(key, pageNum)
	retry := e.store.Policy(key.Mode).Retry
	go e.run(ctx, key, d, f, retry)
	return f
}

// newFlightLocked records a flight for pageNum as the key's only fetch.
// The returned context derives from the engine's base context.
func (e *Engine) newFlightLocked(key cache.Key, pageNum int) (context.Context, *flight) {
	ks, ok := e.keys[key]
	if !ok {
		ks = &keyState{}
		e.keys[key] = ks
	}

	ctx, cancel := context.WithCancel(e.base)
	f := &flight{
		page:    pageNum,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	ks.flight = f
	InFlight.Inc()
	return ctx, f
}

// run performs the fetch and applies the result if the flight is still current.
func (e *Engine) run(ctx context.Context, key cache.Key, d search.Descriptor, f *flight, retry bool) {
	defer close(f.done)
	defer InFlight.Dec()

	page, err := e.fetcher.FetchPage(ctx, d, f.page, retry)
	f.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	logger := e.logger.With().
		Str("cache_key", key.String()).
		Int("page", f.page).
		Logger()

	ks, ok := e.keys[key]
	if !ok || ks.flight != f {
		DiscardedResults.WithLabelValues("superseded").Inc()
		logger.Debug().Msg("Discarded result of superseded fetch")
		return
	}
	ks.flight = nil

	if errors.Is(err, fetcher.ErrCancelled) {
		DiscardedResults.WithLabelValues("cancelled").Inc()
		logger.Debug().Msg("Fetch cancelled")
		return
	}
	if err != nil {
		ks.err = err
		logger.Warn().Err(err).Msg("Page load failed")
		return
	}

	var seq search.Sequence
	if entry, ok := e.store.Peek(key); ok {
		seq = entry.Sequence
	}
	if f.page != seq.NextPageNum() {
		DiscardedResults.WithLabelValues("out_of_order").Inc()
		logger.Warn().
			Int("expected_page", seq.NextPageNum()).
			Msg("Discarded page that does not follow the stored sequence")
		return
	}

	delete(e.keys, key)
	e.store.Put(key, seq.Append(page))
	PagesLoaded.WithLabelValues("remote").Inc()

	logger.Debug().
		Int("rows", len(page.Rows)).
		Int("total_pages", page.TotalPages).
		Dur("duration", time.Since(f.started)).
		Msg("Appended page")
}

// hasMore reports whether a remote sequence may load another page.
func (e *Engine) hasMore(seq search.Sequence) bool {
	last, ok := seq.Last()
	if !ok {
		return false
	}
	return seq.Len() < e.config.MaxPages && seq.NextPageNum() <= last.TotalPages
}

// remoteState builds the consumer view of key.
func (e *Engine) remoteState(key cache.Key) State {
	e.mu.Lock()
	var inflight *flight
	var lastErr error
	if ks, ok := e.keys[key]; ok {
		inflight, lastErr = ks.flight, ks.err
	}
	var seq search.Sequence
	if entry, ok := e.store.Peek(key); ok {
		seq = entry.Sequence
	}
	e.mu.Unlock()

	var status Status
	switch {
	case inflight != nil && seq.Len() == 0:
		status = StatusLoading
	case inflight != nil:
		status = StatusLoadingMore
	case lastErr != nil:
		status = StatusError
	case seq.Len() == 0:
		status = StatusIdle
	default:
		status = StatusReady
	}

	st := stateOf(seq, status)
	st.Err = lastErr
	st.HasNextPage = status != StatusLoading && e.hasMore(seq)
	return st
}

// wait blocks until f completes or ctx ends.
func wait(ctx context.Context, f *flight) {
	if f == nil {
		return
	}
	select {
	case <-f.done:
	case <-ctx.Done():
	}
}

package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/rs/zerolog"
)

type fetchCall struct {
	Keyword string
	Page    int
	Retry   bool
}

// fakeFetcher serves a synthetic dataset per keyword. Calls matching hold
// block until proceed is closed or their context ends.
type fakeFetcher struct {
	mu           sync.Mutex
	defaultTotal int
	totals       map[string]int
	calls        []fetchCall
	cancelled    int

	hold    func(d search.Descriptor, pageNum int) bool
	entered chan fetchCall
	proceed chan struct{}

	fail  func(d search.Descriptor, pageNum int) error
	empty func(pageNum int) bool

	// extra rows past the page end, as a backend ignoring pageSize would return
	extra int
}

func newFakeFetcher(total int) *fakeFetcher {
	return &fakeFetcher{
		defaultTotal: total,
		totals:       make(map[string]int),
		entered:      make(chan fetchCall, 16),
		proceed:      make(chan struct{}),
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, d search.Descriptor, pageNum int, retry bool) (search.Page, error) {
	call := fetchCall{Keyword: d.Keyword, Page: pageNum, Retry: retry}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	hold := f.hold != nil && f.hold(d, pageNum)
	total, ok := f.totals[d.Keyword]
	if !ok {
		total = f.defaultTotal
	}
	f.mu.Unlock()

	if hold {
		f.entered <- call
		select {
		case <-f.proceed:
		case <-ctx.Done():
			f.mu.Lock()
			f.cancelled++
			f.mu.Unlock()
			return search.Page{}, fmt.Errorf("%w: %v", fetcher.ErrCancelled, ctx.Err())
		}
	}

	if f.fail != nil {
		if err := f.fail(d, pageNum); err != nil {
			return search.Page{}, err
		}
	}

	size := d.EffectivePageSize()
	page := search.Page{
		Total:      total,
		PageNum:    pageNum,
		PageSize:   size,
		TotalPages: search.TotalPagesFor(total, size),
		Rows:       []json.RawMessage{},
	}
	if f.empty != nil && f.empty(pageNum) {
		return page, nil
	}
	for i := (pageNum - 1) * size; i < pageNum*size+f.extra && i < total; i++ {
		page.Rows = append(page.Rows, row(d.Keyword, i))
	}
	return page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) callsFor(keyword string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages []int
	for _, c := range f.calls {
		if c.Keyword == keyword {
			pages = append(pages, c.Page)
		}
	}
	return pages
}

// retryFlags returns the retry argument of every call, in call order.
func (f *fakeFetcher) retryFlags() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	flags := make([]bool, len(f.calls))
	for i, c := range f.calls {
		flags[i] = c.Retry
	}
	return flags
}

func (f *fakeFetcher) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeFetcher) setHold(hold func(d search.Descriptor, pageNum int) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

func row(keyword string, i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"q":%q,"i":%d}`, keyword, i))
}

func rows(keyword string, from, to int) []json.RawMessage {
	out := make([]json.RawMessage, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, row(keyword, i))
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VirtualLatency = 0
	return cfg
}

func newTestEngine(t *testing.T, pf PageFetcher, cfg Config, storeOpts ...cache.Option) *Engine {
	t.Helper()
	opts := append([]cache.Option{cache.WithLogger(zerolog.Nop())}, storeOpts...)
	e := NewEngine(cache.NewStore(opts...), pf, cfg, WithLogger(zerolog.Nop()))
	t.Cleanup(e.Close)
	return e
}

// awaitEntered waits for a held fetch to start.
func awaitEntered(t *testing.T, f *fakeFetcher) fetchCall {
	t.Helper()
	select {
	case c := <-f.entered:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not started")
		return fetchCall{}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

package pagination

import (
	"context"
	"fmt"

	"github.com/Sternrassler/marketplace-search/pkg/cache"
	"github.com/Sternrassler/marketplace-search/pkg/fetcher"
	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/Sternrassler/marketplace-search/pkg/session"
)

// Search returns one page of a basic (non-accumulating) search.
//
// Each page is cached under its own key, cursor included. A fresh entry is
// returned as is; a stale one is returned immediately and refreshed in the
// background when the search policy allows it. Concurrent identical
// requests share one fetch.
func (e *Engine) Search(ctx context.Context, d search.Descriptor, pageNum int) (search.Page, error) {
	if pageNum < 1 {
		return search.Page{}, fmt.Errorf("%w: %d", fetcher.ErrInvalidPage, pageNum)
	}

	d = e.prepare(d)
	key := cache.DeriveKey(cache.ModeSearch, d.With("pageNum", pageNum))
	policy := e.store.Policy(cache.ModeSearch)

	if entry, ok := e.store.Get(key); ok {
		if page, ok := entry.Sequence.Last(); ok {
			if policy.BackgroundRefresh && entry.IsStale(e.store.Now()) {
				e.refresh(key, d, pageNum, policy.Retry)
			}
			return page, nil
		}
	}

	ch := e.searches.DoChan(key.String(), func() (any, error) {
		return e.fetchInto(e.base, key, d, pageNum, policy.Retry)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return search.Page{}, res.Err
		}
		return res.Val.(search.Page), nil
	case <-ctx.Done():
		return search.Page{}, fmt.Errorf("%w: %v", fetcher.ErrCancelled, ctx.Err())
	}
}

// refresh refetches a stale basic search page unless a refresh of it is already running.
func (e *Engine) refresh(key cache.Key, d search.Descriptor, pageNum int, retry bool) {
	ch := e.refreshes.DoChan(key.String(), func() (any, error) {
		return e.fetchInto(e.base, key, d, pageNum, retry)
	})

	go func() {
		res := <-ch
		if res.Err != nil {
			BackgroundRefreshes.WithLabelValues("error").Inc()
			e.logger.Warn().
				Err(res.Err).
				Str("cache_key", key.String()).
				Msg("Background refresh failed, serving stale page")
			return
		}
		BackgroundRefreshes.WithLabelValues("ok").Inc()
	}()
}

// fetchInto fetches one basic search page and caches it under key.
// Cancelled fetches write nothing.
func (e *Engine) fetchInto(ctx context.Context, key cache.Key, d search.Descriptor, pageNum int, retry bool) (search.Page, error) {
	InFlight.Inc()
	defer InFlight.Dec()

	page, err := e.fetcher.FetchPage(ctx, d, pageNum, retry)
	if err != nil {
		return search.Page{}, err
	}
	e.store.Put(key, search.Sequence{}.Append(page))
	PagesLoaded.WithLabelValues("search").Inc()
	return page, nil
}

// SeedImageSearch performs the single-shot image search for d and stores the
// complete result as the snapshot a Virtual handle re-paginates. Pages cached
// for an earlier snapshot of the same payload are discarded.
func (e *Engine) SeedImageSearch(ctx context.Context, storage session.Storage, snapshotKey string, d search.Descriptor) (session.Snapshot, error) {
	if snapshotKey == "" {
		snapshotKey = session.DefaultSnapshotKey
	}
	d = d.Without(search.CursorFields...)

	retry := e.store.Policy(cache.ModeSearch).Retry
	page, err := e.fetcher.FetchPage(ctx, d, 1, retry)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("image search: %w", err)
	}

	total := page.Total
	snap := session.Snapshot{Rows: page.Rows, Total: &total}
	if d.PageSize > 0 {
		pageSize := d.PageSize
		snap.PageSize = &pageSize
	}
	if page.SearchTime > 0 {
		searchTime := page.SearchTime
		snap.SearchTime = &searchTime
	}

	if err := session.SaveSnapshot(ctx, storage, snapshotKey, snap, e.config.SnapshotTTL); err != nil {
		return session.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	e.dropVirtual(virtualKey(d, snapshotKey))

	e.logger.Info().
		Str("snapshot_key", snapshotKey).
		Int("rows", len(page.Rows)).
		Int("total", total).
		Int("declared_total", snap.DeclaredTotal()).
		Msg("Seeded image search snapshot")
	return snap, nil
}

package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/search"
)

// PrefetchConfig holds basic search prefetch configuration.
type PrefetchConfig struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultPrefetchConfig returns a conservative prefetch configuration.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageResult represents the result of prefetching a single page.
type PageResult struct {
	PageNumber int
	Page       search.Page
	Error      error
}

// Prefetch warms the basic search cache with pages 1..lastPage of d.
//
// Page 1 is fetched first to learn the page count; the remaining pages are
// distributed across a worker pool. Every page has its own cache key, so the
// workers never fetch the same key in parallel. Pages that fail are left out
// of the result and reported in the returned error (partial data).
func (e *Engine) Prefetch(ctx context.Context, d search.Descriptor, lastPage int, config PrefetchConfig) (map[int]search.Page, error) {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultPrefetchConfig().MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultPrefetchConfig().Timeout
	}

	start := time.Now()

	first, err := e.Search(ctx, d, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	results := map[int]search.Page{1: first}
	if first.TotalPages < lastPage {
		lastPage = first.TotalPages
	}
	if lastPage > e.config.MaxPages {
		lastPage = e.config.MaxPages
	}
	if lastPage <= 1 {
		return results, nil
	}

	pageQueue := make(chan int, lastPage-1)
	for page := 2; page <= lastPage; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	pageResults := make(chan PageResult, lastPage-1)

	workers := min(config.MaxConcurrency, lastPage-1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go e.prefetchWorker(ctx, d, config.Timeout, pageQueue, pageResults, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
	}()

	var firstErr error
	failed := 0
	for result := range pageResults {
		if result.Error != nil {
			failed++
			if firstErr == nil {
				firstErr = result.Error
			}
			continue
		}
		results[result.PageNumber] = result.Page
	}

	e.logger.Debug().
		Str("keyword", d.Keyword).
		Int("pages", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Prefetch complete")

	if firstErr != nil {
		return results, fmt.Errorf("prefetch (partial data: %d/%d pages): %w", len(results), lastPage, firstErr)
	}
	return results, nil
}

// prefetchWorker fetches pages from the queue until it is drained or ctx ends.
func (e *Engine) prefetchWorker(ctx context.Context, d search.Descriptor, timeout time.Duration, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		if ctx.Err() != nil {
			results <- PageResult{PageNumber: pageNum, Error: ctx.Err()}
			continue
		}

		pageCtx, cancel := context.WithTimeout(ctx, timeout)
		page, err := e.Search(pageCtx, d, pageNum)
		cancel()

		if err != nil {
			e.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Prefetch page failed")
		}
		results <- PageResult{PageNumber: pageNum, Page: page, Error: err}
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		e.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Prefetch worker completed")
	}
}

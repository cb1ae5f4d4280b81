// Package fetcher turns one (descriptor, page number) pair into a normalized
// search.Page, with error classification and optional retry.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/marketplace-search/pkg/search"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Searcher performs one raw search request and returns the response body.
type Searcher interface {
	Search(ctx context.Context, d search.Descriptor, pageNum int) ([]byte, error)
}

// SearcherFunc adapts a plain function to the Searcher interface.
type SearcherFunc func(ctx context.Context, d search.Descriptor, pageNum int) ([]byte, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, d search.Descriptor, pageNum int) ([]byte, error) {
	return f(ctx, d, pageNum)
}

// Fetcher fetches and normalizes single pages.
type Fetcher struct {
	searcher Searcher
	retry    RetryConfig
	logger   zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetryConfig overrides the retry schedule.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(f *Fetcher) {
		f.retry = cfg
	}
}

// WithLogger sets the fetcher's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher backed by searcher.
func New(searcher Searcher, opts ...Option) *Fetcher {
	if searcher == nil {
		panic("searcher cannot be nil")
	}
	f := &Fetcher{
		searcher: searcher,
		retry:    DefaultRetryConfig(),
		logger:   log.With().Str("component", "page-fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage requests page pageNum for d and normalizes the response.
//
// With retry set, server, rate limit and network failures are retried with
// backoff; exhaustion yields ErrRetryExhausted. Failures are returned as
// *FetchError. When ctx ends first the result is ErrCancelled.
func (f *Fetcher) FetchPage(ctx context.Context, d search.Descriptor, pageNum int, retry bool) (search.Page, error) {
	if pageNum < 1 {
		return search.Page{}, fmt.Errorf("%w: %d", ErrInvalidPage, pageNum)
	}

	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	logger := f.logger.With().
		Str("keyword", d.Keyword).
		Int("page", pageNum).
		Logger()

	var page search.Page
	attempt := func() error {
		raw, err := f.searcher.Search(ctx, d, pageNum)
		if err != nil {
			return &FetchError{Class: Classify(err), PageNum: pageNum, Err: err}
		}
		p, err := search.Normalize(raw, pageNum, d.EffectivePageSize())
		if err != nil {
			return &FetchError{Class: ErrorClassClient, PageNum: pageNum, Err: err}
		}
		page = p
		return nil
	}

	var err error
	if retry {
		err = retryWithBackoff(ctx, f.retry, logger, attempt)
	} else {
		err = attempt()
	}

	// The caller's context decides cancellation; transport timeouts stay classified.
	if ctx.Err() != nil {
		fetchTotal.WithLabelValues("cancelled").Inc()
		logger.Debug().Msg("Fetch cancelled")
		return search.Page{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrRetryExhausted) {
			outcome = "exhausted"
		}
		fetchTotal.WithLabelValues(outcome).Inc()
		logger.Warn().
			Err(err).
			Str("error_class", string(Classify(err))).
			Msg("Fetch failed")
		return search.Page{}, err
	}

	fetchTotal.WithLabelValues("ok").Inc()
	logger.Debug().
		Int("rows", len(page.Rows)).
		Int("total", page.Total).
		Dur("duration", time.Since(start)).
		Msg("Fetched page")
	return page, nil
}

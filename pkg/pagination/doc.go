// Package pagination drives incremental loading of marketplace search results.
//
// Two paginators share one Engine and one cache store:
//
//   - Remote pages a server-paginated keyword search. Handles for equal
//     descriptors share one growing sequence and one in-flight fetch.
//   - Virtual re-pages a one-shot image search result kept in session
//     storage, falling back to the backend only when the stored result is
//     shorter than its declared total.
//
// Example usage:
//
//	store := cache.NewStore()
//	engine := pagination.NewEngine(store, fetcher.New(searcher), pagination.DefaultConfig())
//	defer engine.Close()
//
//	r := engine.Remote(search.Descriptor{Keyword: "tea"})
//	defer r.Close()
//	st := r.Load(ctx)
//	for st.HasNextPage {
//		st = r.LoadNextPage(ctx)
//	}
//
// Per cache key at most one fetch runs at a time, pages are appended in
// strictly increasing order, and a result whose flight was cancelled or
// superseded is discarded rather than written. Paginator errors never
// escape as return values; they surface in State.Err and are cleared by Reset.
//
// Engine.Search serves the basic (one page per key) search with
// stale-while-revalidate, and Engine.Prefetch warms it with a worker pool.
package pagination

// Package cache holds paginated search results in process, keyed by the
// canonical identity of the query that produced them.
//
// Two namespaces share one Store:
//
//   - ModeSearch stores one entry per requested page. The cursor is part of
//     the key, so page 2 and page 3 of the same query are separate entries.
//   - ModeInfinite stores one entry per query. Cursor fields are stripped
//     before derivation and the entry holds the growing sequence of pages.
//
// # Keys
//
//	key := cache.DeriveKey(cache.ModeInfinite, search.Descriptor{
//		Keyword:  "oolong",
//		Filters:  map[string]any{"category": "tea"},
//		PageSize: 20,
//	})
//	// infinite:{"filters":{"category":"tea"},"keyword":"oolong","pageSize":20}
//
// Map keys are ordered at every depth, so logically equal descriptors always
// derive equal keys.
//
// # Freshness
//
// Each namespace has a Policy. An entry younger than StaleTime is fresh and
// served as is. A stale entry is still served; whether it is refetched in
// the background is up to the Policy. Entries with no subscribers are
// removed once GCTime has passed since their last access, either lazily on
// Get or by Sweep.
//
//	store := cache.NewStore(cache.WithPolicy(cache.ModeSearch, policy))
//	go store.Run(ctx, time.Minute)
//
//	release := store.Subscribe(key)
//	defer release()
//
// # Metrics
//
//   - search_cache_hits_total{mode}
//   - search_cache_misses_total{mode}
//   - search_cache_evictions_total{reason}
//   - search_cache_entries
package cache

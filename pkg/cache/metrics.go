package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by mode (search, infinite)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_hits_total",
			Help: "Total number of search cache hits",
		},
		[]string{"mode"},
	)

	// CacheMisses tracks cache misses by mode
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_misses_total",
			Help: "Total number of search cache misses",
		},
		[]string{"mode"},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_evictions_total",
			Help: "Total number of evicted search cache entries",
		},
		[]string{"reason"}, // "expired", "explicit"
	)

	// CacheEntries tracks the number of live entries across all stores
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "search_cache_entries",
			Help: "Current number of search cache entries",
		},
	)
)

package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for paginator operations.
var (
	// PagesLoaded counts pages appended to a sequence by source
	// (remote, virtual_local, virtual_fallback).
	PagesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_pages_loaded_total",
		Help: "Total pages appended to paginated sequences by source",
	}, []string{"source"})

	// DiscardedResults counts fetch results dropped instead of being written
	// (superseded, cancelled, out_of_order).
	DiscardedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_discarded_results_total",
		Help: "Total fetch results discarded by reason",
	}, []string{"reason"})

	// InFlight tracks page fetches currently running in the flight table.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "search_inflight_fetches",
		Help: "Number of page fetches currently in flight",
	})

	// BackgroundRefreshes counts stale-while-revalidate refreshes by result.
	BackgroundRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_background_refreshes_total",
		Help: "Total background refreshes of stale search entries by result",
	}, []string{"result"})
)

// Package metrics exposes the Prometheus registry shared by the search packages.
//
// Metrics are defined with promauto in the package that records them
// (cache, fetcher, pagination, session, client, ratelimit) to keep packages free of
// circular imports. This package serves them and lists them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all search metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Names lists every metric family registered by the search packages.
var Names = []string{
	// pkg/cache
	"search_cache_hits_total",
	"search_cache_misses_total",
	"search_cache_evictions_total",
	"search_cache_entries",
	// pkg/fetcher
	"search_fetch_total",
	"search_fetch_duration_seconds",
	"search_retries_total",
	"search_retry_backoff_seconds",
	"search_retry_exhausted_total",
	// pkg/pagination
	"search_pages_loaded_total",
	"search_discarded_results_total",
	"search_inflight_fetches",
	"search_background_refreshes_total",
	// pkg/session
	"search_session_errors_total",
	"search_session_snapshot_loads_total",
	// pkg/client
	"search_http_requests_total",
	"search_http_request_duration_seconds",
	// pkg/ratelimit
	"search_rate_limit_cooldown_seconds",
	"search_rate_limit_blocks_total",
	"search_rate_limit_waits_total",
}

// Metrics Documentation
//
// Cache Store (pkg/cache):
//   - search_cache_hits_total{mode} (Counter): lookups served from the store
//   - search_cache_misses_total{mode} (Counter): lookups not in the store or expired
//   - search_cache_evictions_total{reason} (Counter): removals (expired, explicit)
//   - search_cache_entries (Gauge): sequences currently held
//
// Page Fetcher (pkg/fetcher):
//   - search_fetch_total{outcome} (Counter): page fetches by outcome
//   - search_fetch_duration_seconds (Histogram): page fetch latency including retries
//   - search_retries_total{error_class} (Counter): retry attempts
//   - search_retry_backoff_seconds{error_class} (Histogram): backoff waits
//   - search_retry_exhausted_total{error_class} (Counter): fetches that ran out of attempts
//
// Paginators (pkg/pagination):
//   - search_pages_loaded_total{source} (Counter): pages appended (remote, virtual_local, virtual_fallback, search)
//   - search_discarded_results_total{reason} (Counter): completed fetches not written
//   - search_inflight_fetches (Gauge): fetches currently running
//   - search_background_refreshes_total{result} (Counter): stale entry refreshes
//
// Session storage (pkg/session):
//   - search_session_errors_total{operation} (Counter)
//   - search_session_snapshot_loads_total{result} (Counter): ok, missing, malformed
//
// HTTP adapter (pkg/client):
//   - search_http_requests_total{endpoint, status} (Counter)
//   - search_http_request_duration_seconds{endpoint} (Histogram)
//
// Backend cooldown (pkg/ratelimit):
//   - search_rate_limit_cooldown_seconds (Gauge): remaining cooldown after the last throttling response
//   - search_rate_limit_blocks_total (Counter): requests failed fast during a cooldown
//   - search_rate_limit_waits_total (Counter): requests that waited out a short cooldown
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(search_cache_hits_total[5m])) /
//   (sum(rate(search_cache_hits_total[5m])) + sum(rate(search_cache_misses_total[5m])))
//
//   # Discarded fetches (cancellations and superseded flights)
//   sum by (reason) (rate(search_discarded_results_total[5m]))
//
//   # P95 Page Fetch Latency
//   histogram_quantile(0.95, rate(search_fetch_duration_seconds_bucket[5m]))

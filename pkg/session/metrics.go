package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageErrors tracks session storage operation errors
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_session_errors_total",
			Help: "Total number of session storage operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "expire", "decode"
	)

	// SnapshotLoads tracks snapshot reads by result
	SnapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_session_snapshot_loads_total",
			Help: "Total number of image-search snapshot loads by result",
		},
		[]string{"result"}, // "ok", "missing", "malformed"
	)
)

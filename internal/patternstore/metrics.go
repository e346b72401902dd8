// Package patternstore provides Prometheus metrics for store operations.
package patternstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// upsertsTotal counts record writes.
	// Labels: backend (remote, local), status (success, error)
	upsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "upserts_total",
			Help:      "Total number of pattern record upserts",
		},
		[]string{"backend", "status"},
	)

	// queriesTotal counts similarity queries.
	// Labels: backend (remote, local), status (success, error)
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "queries_total",
			Help:      "Total number of pattern similarity queries",
		},
		[]string{"backend", "status"},
	)

	// storeHealthy indicates remote store health (1=healthy, 0=degraded).
	storeHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "remote_healthy",
			Help:      "Current remote store health (1=healthy, 0=degraded)",
		},
	)

	// healthCheckDuration tracks how long health checks take.
	healthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "health_check_duration_seconds",
			Help:      "Duration of remote health checks in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// walPendingEntries tracks unsynced WAL entries.
	walPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "wal_pending_entries",
			Help:      "Number of WAL entries awaiting sync to the remote store",
		},
	)

	// syncAttemptsTotal counts WAL entry sync attempts.
	// Labels: result (success, error)
	syncAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "sync_attempts_total",
			Help:      "Total number of WAL entry sync attempts",
		},
		[]string{"result"},
	)

	// prunedRecordsTotal counts records removed by retention.
	prunedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conductord",
			Subsystem: "patternstore",
			Name:      "pruned_records_total",
			Help:      "Total number of pattern records removed by retention",
		},
	)
)

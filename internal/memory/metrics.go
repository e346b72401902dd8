package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// enhanceTotal counts boost requests.
	// Labels: result (boost, empty, degraded)
	enhanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductord",
			Subsystem: "memory",
			Name:      "enhance_total",
			Help:      "Total number of memory boost requests by result",
		},
		[]string{"result"},
	)

	// recordsTotal counts recorded outcomes.
	// Labels: outcome (success, failure)
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductord",
			Subsystem: "memory",
			Name:      "records_total",
			Help:      "Total number of recorded task outcomes",
		},
		[]string{"outcome"},
	)
)

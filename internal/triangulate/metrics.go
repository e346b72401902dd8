package triangulate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	triangulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "triangulate",
		Name:      "runs_total",
		Help:      "Triangulation runs by outcome.",
	}, []string{"result"})

	viewpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conductord",
		Subsystem: "triangulate",
		Name:      "viewpoint_duration_seconds",
		Help:      "Per-viewpoint evaluation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"viewpoint"})

	viewpointDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "triangulate",
		Name:      "viewpoint_degraded_total",
		Help:      "Viewpoint evaluations that timed out or failed.",
	}, []string{"viewpoint"})
)

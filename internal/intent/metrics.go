package intent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "intent",
		Name:      "entries_total",
		Help:      "Recorded intent entries by kind and source.",
	}, []string{"kind", "source"})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "intent",
		Name:      "verdicts_total",
		Help:      "Alignment verdicts by decision.",
	}, []string{"decision"})
)

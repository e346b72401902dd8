package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "review",
		Name:      "gate_results_total",
		Help:      "Final gate outcomes by gate and result.",
	}, []string{"gate", "result"})

	remediationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "review",
		Name:      "remediations_total",
		Help:      "Fix instructions issued per gate.",
	}, []string{"gate"})
)

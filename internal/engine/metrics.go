package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "engine",
		Name:      "signals_total",
		Help:      "Completion signals by processing outcome.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Phase transitions by destination phase.",
	}, []string{"phase"})

	instructionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "engine",
		Name:      "instructions_total",
		Help:      "Instruction requests published, by phase and worker tier.",
	}, []string{"phase", "tier"})

	escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductord",
		Subsystem: "engine",
		Name:      "escalations_total",
		Help:      "Escalation queue events by status.",
	}, []string{"status"})

	activeProjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conductord",
		Subsystem: "engine",
		Name:      "active_projects",
		Help:      "Projects currently in an active status.",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "conductord",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Signals waiting per namespace queue.",
	}, []string{"namespace"})
)

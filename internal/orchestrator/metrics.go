package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// activeRuns tracks workflow runs currently inside Engine.Run
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrd",
		Subsystem: "engine",
		Name:      "active_runs",
		Help:      "Number of workflow runs in progress",
	})

	// runsTotal counts finished runs by strategy and terminal status
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "Total workflow runs by strategy and terminal status",
	}, []string{"strategy", "status"})

	// phaseDuration measures node and phase latency
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrd",
		Subsystem: "engine",
		Name:      "node_duration_seconds",
		Help:      "Node execution latency in seconds",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"node", "status"})

	// gateVerdicts counts gate outcomes
	gateVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "engine",
		Name:      "gate_verdicts_total",
		Help:      "Quality gate verdicts by gate and outcome",
	}, []string{"node", "verdict"})

	// decisions counts aggregator decisions
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Aggregator decisions by outcome",
	}, []string{"decision"})

	// refinementIterations records how many refine passes a finished run needed
	refinementIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrd",
		Subsystem: "engine",
		Name:      "refinement_iterations",
		Help:      "Refinement iterations per finished run",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
	})
)

func gateVerdict(r GateResult) string {
	switch {
	case r.Failed():
		return "error"
	case r.Approved:
		return "approved"
	default:
		return "rejected"
	}
}

package hitl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrd",
		Subsystem: "hitl",
		Name:      "pending_requests",
		Help:      "Number of human input requests awaiting an answer",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "hitl",
		Name:      "requests_total",
		Help:      "Human input requests created by checkpoint type",
	}, []string{"checkpoint_type"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "hitl",
		Name:      "outcomes_total",
		Help:      "Finalized human input requests by checkpoint type and status",
	}, []string{"checkpoint_type", "status"})

	rejectedResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "hitl",
		Name:      "rejected_responses_total",
		Help:      "Responses refused by the manager by reason",
	}, []string{"reason"})

	waitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrd",
		Subsystem: "hitl",
		Name:      "wait_seconds",
		Help:      "Time from request creation to finalization",
		Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 14400},
	}, []string{"checkpoint_type"})

	broadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "hitl",
		Name:      "broadcast_errors_total",
		Help:      "Broadcasts that failed or panicked",
	})
)

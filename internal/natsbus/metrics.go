package natsbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "natsbus",
		Name:      "published_total",
		Help:      "Events published to NATS by stream",
	}, []string{"stream"})

	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrd",
		Subsystem: "natsbus",
		Name:      "publish_errors_total",
		Help:      "Failed NATS publishes",
	})
)

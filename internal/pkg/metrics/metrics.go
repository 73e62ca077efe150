package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

// Registry exposes the gateway's private prometheus registry so the HTTP
// layer can serve it.
func Registry() *prometheus.Registry {
	return registry
}

var (
	SentTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "messages_sent_total",
		Help:      "Messages delivered successfully, by channel.",
	}, []string{"channel"})

	FailedTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "messages_failed_total",
		Help:      "Messages that failed delivery, by channel.",
	}, []string{"channel"})

	RetriesTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "omni",
		Name:      "send_retries_total",
		Help:      "Delivery attempts beyond the first, by channel.",
	}, []string{"channel"})

	SendLatency = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "omni",
		Name:      "send_latency_ms",
		Help:      "Create-to-send latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
	}, []string{"channel"})
)

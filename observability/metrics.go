// Package observability exposes the Prometheus metrics of the broadcast core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_broadcast"

type Metrics struct {
	MessagesAppended   prometheus.Counter
	MessagesDelivered  prometheus.Counter
	SendsRejected      *prometheus.CounterVec
	SubscribersDropped *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	ActiveSubscribers  prometheus.Gauge
	MaxQueueDepth      prometheus.Gauge
	QueueFillRatio     prometheus.Histogram
}

// NewMetrics registers every collector on registerer. Tests pass a fresh
// prometheus.NewRegistry() so that collectors never clash.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MessagesAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages accepted by the log.",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages queued to subscribers by the dispatcher.",
		}),
		SendsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_rejected_total",
			Help:      "Send calls refused, by error kind.",
		}, []string{"kind"}),
		SubscribersDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed from live delivery by the dispatcher, by error kind.",
		}, []string{"kind"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions in the Active state.",
		}),
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscribers",
			Help:      "Subscribers registered for live delivery, sampled.",
		}),
		MaxQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriber_queue_depth_max",
			Help:      "Deepest subscriber queue at the last sample.",
		}),
		QueueFillRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subscriber_queue_fill_ratio",
			Help:      "Queue length over capacity for each subscriber, sampled.",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
	}
}

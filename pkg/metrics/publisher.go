package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PublisherMetrics contains Prometheus metrics for the load publisher.
type PublisherMetrics struct {
	PayloadsGenerated  prometheus.Counter
	PublishFailures    *prometheus.CounterVec
	PublishDuration    *prometheus.HistogramVec
	ActiveProducers    prometheus.Gauge
	PublishesCompleted *prometheus.CounterVec
}

// NewPublisherMetrics creates publisher metrics and registers them with reg,
// or with the global Registry when reg is nil.
func NewPublisherMetrics(namespace string, reg prometheus.Registerer) *PublisherMetrics {
	m := &PublisherMetrics{
		PayloadsGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "payloads_generated_total",
				Help:      "Total number of payloads generated",
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "publish_failures_total",
				Help:      "Total number of failed publish rounds",
			},
			[]string{"mode"},
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "publish_duration_seconds",
				Help:      "Duration of publish rounds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "active_producers",
				Help:      "Number of currently active producers",
			},
		),
		PublishesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "publishes_completed_total",
				Help:      "Total number of successful publish rounds",
			},
			[]string{"mode"},
		),
	}

	registererOrDefault(reg).MustRegister(
		m.PayloadsGenerated,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveProducers,
		m.PublishesCompleted,
	)

	return m
}

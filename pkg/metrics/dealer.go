package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DealerMetrics contains Prometheus metrics for the dealer client.
type DealerMetrics struct {
	MessagesSent        *prometheus.CounterVec
	BatchesSent         *prometheus.CounterVec
	SendFailures        *prometheus.CounterVec
	SendDuration        *prometheus.HistogramVec
	MessagesReceived    *prometheus.CounterVec
	ReceiveDuration     *prometheus.HistogramVec
	Dispositions        *prometheus.CounterVec
	DispositionFailures *prometheus.CounterVec
}

// NewDealerMetrics creates dealer metrics and registers them with reg,
// or with the global Registry when reg is nil.
func NewDealerMetrics(namespace string, reg prometheus.Registerer) *DealerMetrics {
	m := &DealerMetrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "messages_sent_total",
				Help:      "Total number of wire messages handed to the transport",
			},
			[]string{"queue", "mode"}, // mode: single, list, many, batch
		),
		BatchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "batches_sent_total",
				Help:      "Total number of capacity-bounded batches sent",
			},
			[]string{"queue"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "send_failures_total",
				Help:      "Total number of failed send operations",
			},
			[]string{"queue", "mode", "reason"},
		),
		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "send_duration_seconds",
				Help:      "Duration of send operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue", "mode"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "messages_received_total",
				Help:      "Total number of messages received from the transport",
			},
			[]string{"queue"},
		),
		ReceiveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "receive_duration_seconds",
				Help:      "Duration of receive operations, including the wait for messages",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		Dispositions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "dispositions_total",
				Help:      "Total number of settled messages by action",
			},
			[]string{"queue", "action"},
		),
		DispositionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dealer",
				Name:      "disposition_failures_total",
				Help:      "Total number of failed settlements by action",
			},
			[]string{"queue", "action"},
		),
	}

	registererOrDefault(reg).MustRegister(
		m.MessagesSent,
		m.BatchesSent,
		m.SendFailures,
		m.SendDuration,
		m.MessagesReceived,
		m.ReceiveDuration,
		m.Dispositions,
		m.DispositionFailures,
	)

	return m
}

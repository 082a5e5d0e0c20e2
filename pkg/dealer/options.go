package dealer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"procodus.dev/busdealer/pkg/metrics"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	metrics     *metrics.DealerMetrics
	queueName   string
	receiveWait time.Duration
	handleWait  time.Duration
	closer      func(context.Context) error
	messageID   func() string
}

func defaultOptions() *options {
	return &options{
		logger:      slog.Default(),
		receiveWait: DefaultReceiveWait,
		handleWait:  DefaultHandleWait,
		messageID:   uuid.NewString,
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.DealerMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithQueueName labels logs and metrics with the queue name.
func WithQueueName(name string) Option {
	return func(o *options) {
		o.queueName = name
	}
}

// WithReceiveWait sets the default wait ceiling of ReceiveBatch.
// Non-positive values keep the default.
func WithReceiveWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.receiveWait = d
		}
	}
}

// WithHandleWait sets the wait ceiling HandleMessage uses to receive its message.
// Non-positive values keep the default.
func WithHandleWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handleWait = d
		}
	}
}

// WithCloser registers fn to run last on Close, typically the owning connection.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *options) {
		o.closer = fn
	}
}

// WithMessageIDFunc overrides the message ID generator (uuid v4 by default).
func WithMessageIDFunc(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.messageID = fn
		}
	}
}

package dealer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"procodus.dev/busdealer/pkg/transport"
	"procodus.dev/busdealer/pkg/transport/rabbitmq"
	"procodus.dev/busdealer/pkg/transport/servicebus"
	"procodus.dev/busdealer/pkg/transport/sqs"
)

const (
	// DefaultReceiveWait bounds ReceiveBatch when no wait is given.
	DefaultReceiveWait = 15 * time.Second
	// DefaultHandleWait bounds the receive step of HandleMessage.
	DefaultHandleWait = 10 * time.Second
)

// Backend selects the managed queue a Config dials.
type Backend string

const (
	BackendServiceBus Backend = "servicebus"
	BackendSQS        Backend = "sqs"
	BackendRabbitMQ   Backend = "rabbitmq"
)

// ParseBackend maps a backend name to a Backend. An empty name selects Service Bus.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "servicebus", "azure", "asb":
		return BackendServiceBus, nil
	case "sqs", "aws":
		return BackendSQS, nil
	case "rabbitmq", "amqp":
		return BackendRabbitMQ, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// Config holds what Dial needs to reach one queue.
type Config struct {
	Backend          Backend
	ConnectionString string
	QueueName        string
	// ReceiveWait is the default ReceiveBatch ceiling. Zero means DefaultReceiveWait.
	ReceiveWait time.Duration
	// HandleWait is the HandleMessage receive ceiling. Zero means DefaultHandleWait.
	HandleWait time.Duration
}

// Validate checks the required fields and the backend name.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if strings.TrimSpace(c.ConnectionString) == "" {
		return ErrConnectionStringRequired
	}
	if strings.TrimSpace(c.QueueName) == "" {
		return ErrQueueNameRequired
	}
	return nil
}

// conn is the connection an adapter opens for one queue.
type conn interface {
	Sender() transport.Sender
	Receiver() transport.Receiver
	Close(ctx context.Context) error
}

// Dial validates cfg, opens the selected backend and returns a client that
// owns the connection. Options given here override those derived from cfg.
func Dial[T any](ctx context.Context, cfg Config, opts ...Option) (*Client[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, _ := ParseBackend(string(cfg.Backend))

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.logger.With("backend", string(backend), "queue", cfg.QueueName)

	var (
		c   conn
		err error
	)
	switch backend {
	case BackendServiceBus:
		c, err = servicebus.Open(cfg.ConnectionString, cfg.QueueName, &servicebus.Options{Logger: log})
	case BackendSQS:
		c, err = sqs.Open(ctx, cfg.ConnectionString, cfg.QueueName, &sqs.Options{Logger: log})
	case BackendRabbitMQ:
		c, err = rabbitmq.Open(cfg.ConnectionString, cfg.QueueName, &rabbitmq.Options{Logger: log})
	}
	if err != nil {
		log.Error("failed to open transport", "error", err)
		return nil, &TransportError{Op: "open " + string(backend), Err: err}
	}

	base := []Option{
		WithQueueName(cfg.QueueName),
		WithReceiveWait(cfg.ReceiveWait),
		WithHandleWait(cfg.HandleWait),
		WithCloser(c.Close),
	}
	client, err := New[T](c.Sender(), c.Receiver(), append(base, opts...)...)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	log.Info("transport opened")
	return client, nil
}

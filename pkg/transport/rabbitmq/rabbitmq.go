// Package rabbitmq adapts a RabbitMQ queue to the transport interfaces.
// Publishes run on a confirm-mode channel and wait for the broker's ack.
// A background watcher re-establishes the connection and channel after they
// close; operations in between fail with a not-connected error.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/busdealer/pkg/transport"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// DefaultPollInterval spaces basic.get calls while the queue is empty.
	DefaultPollInterval = 100 * time.Millisecond

	// Default capacity of batches from NewMessageBatch.
	DefaultBatchMaxMessages = 100
	DefaultBatchMaxBytes    = 1024 * 1024

	// DeadLetterSuffix names the queue dead-lettered messages are published to.
	DeadLetterSuffix = ".deadletter"

	HeaderDeadLetterReason      = "x-dead-letter-reason"
	HeaderDeadLetterDescription = "x-dead-letter-description"
	headerDeliveryCount         = "x-delivery-count"
)

var (
	errNotConnected   = errors.New("not connected to a server")
	errAlreadyClosed  = errors.New("already closed: not connected to the server")
	errNacked         = errors.New("publish not acknowledged by the broker")
	errForeignMessage = errors.New("message was not received from rabbitmq")
)

// Channel is the subset of *amqp.Channel the adapter uses.
type Channel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// Options configures Open.
type Options struct {
	Logger *slog.Logger
	// Durable declares the queue and its dead-letter queue as durable.
	Durable bool
	// PollInterval spaces basic.get calls while the queue is empty.
	PollInterval time.Duration
	// BatchMaxMessages and BatchMaxBytes bound batches from NewMessageBatch.
	BatchMaxMessages int
	BatchMaxBytes    int
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.BatchMaxMessages <= 0 {
		out.BatchMaxMessages = DefaultBatchMaxMessages
	}
	if out.BatchMaxBytes <= 0 {
		out.BatchMaxBytes = DefaultBatchMaxBytes
	}
	return &out
}

// Transport owns one connection and one confirm-mode channel bound to a queue.
type Transport struct {
	m               *sync.Mutex
	logger          *slog.Logger
	opts            *Options
	connection      *amqp.Connection
	channel         Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	queueName       string
	deadLetterQueue string
	isReady         bool

	sender   *Sender
	receiver *Receiver
}

// Open dials addr, declares queue and its dead-letter queue, and starts the
// reconnect watcher. The first connection attempt is synchronous.
func Open(addr, queue string, opts *Options) (*Transport, error) {
	t := newTransport(queue, opts)

	conn, err := t.connect(addr)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	if err := t.init(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init channel: %w", err)
	}

	go t.handleReconnect(addr, conn)
	return t, nil
}

// NewWithChannel binds queue on an already configured channel. No queues are
// declared and no reconnect watcher runs.
func NewWithChannel(ch Channel, queue string, opts *Options) *Transport {
	t := newTransport(queue, opts)
	t.channel = ch
	t.isReady = true
	return t
}

func newTransport(queue string, opts *Options) *Transport {
	o := opts.withDefaults()
	t := &Transport{
		m:               &sync.Mutex{},
		logger:          o.Logger,
		opts:            o,
		done:            make(chan struct{}),
		queueName:       queue,
		deadLetterQueue: queue + DeadLetterSuffix,
	}
	t.sender = &Sender{t: t}
	t.receiver = &Receiver{t: t}
	return t
}

// Sender returns the queue sender.
func (t *Transport) Sender() transport.Sender { return t.sender }

// Receiver returns the queue receiver.
func (t *Transport) Receiver() transport.Receiver { return t.receiver }

// handleReconnect waits for the connection to close and then keeps trying
// to connect until Close is called.
func (t *Transport) handleReconnect(addr string, conn *amqp.Connection) {
	for {
		if done := t.handleReInit(conn); done {
			return
		}

		for {
			if t.closed() {
				return
			}
			t.setReady(false)
			t.logger.Info("attempting to reconnect")

			var err error
			conn, err = t.connect(addr)
			if err == nil {
				break
			}
			if errors.Is(err, errAlreadyClosed) {
				return
			}
			t.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-t.done:
				return
			case <-time.After(reconnectDelay):
			}
		}

		if err := t.init(conn); err != nil {
			if errors.Is(err, errAlreadyClosed) {
				return
			}
			t.logger.Error("failed to initialize channel", "error", err)
		}
	}
}

// handleReInit waits for a channel error and re-initializes the channel.
// It returns true once the transport is closed.
func (t *Transport) handleReInit(conn *amqp.Connection) bool {
	for {
		if t.closed() {
			return true
		}

		t.m.Lock()
		ready := t.isReady
		t.m.Unlock()

		if !ready {
			if err := t.init(conn); err != nil {
				t.logger.Error("failed to initialize channel, retrying", "error", err)

				select {
				case <-t.done:
					return true
				case <-t.notifyConnClose:
					return t.connectionLost()
				case <-time.After(reInitDelay):
				}
				continue
			}
		}

		select {
		case <-t.done:
			return true
		case <-t.notifyConnClose:
			return t.connectionLost()
		case <-t.notifyChanClose:
			t.logger.Info("channel closed, re-running init")
			t.setReady(false)
		}
	}
}

// closed reports whether Close has been called.
func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// connectionLost decides what a closed connection means: a reconnect, or
// the end of the watcher when Close caused it. Close closes done before the
// connection, so a closed done always wins.
func (t *Transport) connectionLost() bool {
	if t.closed() {
		return true
	}
	t.logger.Info("connection closed, reconnecting")
	return false
}

// connect creates a new AMQP connection. A connection that completes after
// Close is closed again and errAlreadyClosed returned.
func (t *Transport) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, err
	}

	t.m.Lock()
	if t.closed() {
		t.m.Unlock()
		_ = conn.Close()
		return nil, errAlreadyClosed
	}
	t.connection = conn
	t.notifyConnClose = make(chan *amqp.Error, 1)
	t.m.Unlock()
	conn.NotifyClose(t.notifyConnClose)

	t.logger.Info("connected")
	return conn, nil
}

// init opens a confirm-mode channel and declares both queues.
func (t *Transport) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return err
	}

	for _, name := range []string{t.queueName, t.deadLetterQueue} {
		if _, err := ch.QueueDeclare(
			name,
			t.opts.Durable, // Durable
			false,          // Delete when unused
			false,          // Exclusive
			false,          // No-wait
			nil,            // Arguments
		); err != nil {
			_ = ch.Close()
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	notifyChanClose := make(chan *amqp.Error, 1)
	ch.NotifyClose(notifyChanClose)

	t.m.Lock()
	if t.closed() {
		t.m.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return errAlreadyClosed
	}
	t.channel = ch
	t.notifyChanClose = notifyChanClose
	t.isReady = true
	t.m.Unlock()

	t.logger.Info("channel initialized")
	return nil
}

func (t *Transport) setReady(ready bool) {
	t.m.Lock()
	t.isReady = ready
	t.m.Unlock()
}

func (t *Transport) readyChannel() (Channel, error) {
	t.m.Lock()
	defer t.m.Unlock()

	if !t.isReady {
		return nil, errNotConnected
	}
	return t.channel, nil
}

// publish sends one message to queue and waits for the broker's confirm.
func (t *Transport) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	ch, err := t.readyChannel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",    // Exchange
		queue, // Routing key
		false, // Mandatory
		false, // Immediate
		msg,
	)
	if err != nil {
		return err
	}
	return waitConfirm(ctx, confirm)
}

// publishAll publishes every message before waiting for the confirms.
func (t *Transport) publishAll(ctx context.Context, messages []*transport.Message) error {
	ch, err := t.readyChannel()
	if err != nil {
		return err
	}

	confirms := make([]*amqp.DeferredConfirmation, 0, len(messages))
	for i, m := range messages {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", t.queueName, false, false, toPublishing(m))
		if err != nil {
			return fmt.Errorf("publish message %d of %d: %w", i+1, len(messages), err)
		}
		confirms = append(confirms, confirm)
	}

	for i, confirm := range confirms {
		if err := waitConfirm(ctx, confirm); err != nil {
			return fmt.Errorf("confirm message %d of %d: %w", i+1, len(messages), err)
		}
	}
	return nil
}

// waitConfirm blocks until the broker acks. A nil confirmation means the
// channel is not in confirm mode and there is nothing to wait for.
func waitConfirm(ctx context.Context, confirm *amqp.DeferredConfirmation) error {
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errNacked
	}
	return nil
}

// Close shuts down the channel and connection and stops the watcher.
func (t *Transport) Close(_ context.Context) error {
	t.m.Lock()
	defer t.m.Unlock()

	select {
	case <-t.done:
		return errAlreadyClosed
	default:
	}
	close(t.done)
	t.isReady = false

	var errs []error
	if t.channel != nil {
		if err := t.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if t.connection != nil {
		if err := t.connection.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sender implements transport.Sender.
type Sender struct {
	t *Transport
}

// SendMessage implements transport.Sender.
func (s *Sender) SendMessage(ctx context.Context, m *transport.Message) error {
	return s.t.publish(ctx, s.t.queueName, toPublishing(m))
}

// SendMessages implements transport.Sender.
func (s *Sender) SendMessages(ctx context.Context, messages []*transport.Message) error {
	return s.t.publishAll(ctx, messages)
}

// NewMessageBatch implements transport.Sender.
func (s *Sender) NewMessageBatch(_ context.Context) (transport.MessageBatch, error) {
	return transport.NewSizedBatch(s.t.opts.BatchMaxMessages, s.t.opts.BatchMaxBytes)
}

// SendMessageBatch implements transport.Sender.
func (s *Sender) SendMessageBatch(ctx context.Context, batch transport.MessageBatch) error {
	sized, ok := batch.(*transport.SizedBatch)
	if !ok {
		return fmt.Errorf("unsupported batch type %T", batch)
	}
	return s.t.publishAll(ctx, sized.Messages())
}

// Close is a no-op; the channel is closed with the Transport.
func (s *Sender) Close(_ context.Context) error { return nil }

// Receiver implements transport.Receiver by polling basic.get.
type Receiver struct {
	t *Transport
}

// ReceiveMessages waits for the first message, then takes whatever else is
// immediately available up to maxMessages.
func (r *Receiver) ReceiveMessages(ctx context.Context, maxMessages int) ([]*transport.ReceivedMessage, error) {
	ticker := time.NewTicker(r.t.opts.PollInterval)
	defer ticker.Stop()

	for {
		received, err := r.drain(maxMessages)
		if err != nil {
			return nil, err
		}
		if len(received) > 0 {
			return received, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Receiver) drain(maxMessages int) ([]*transport.ReceivedMessage, error) {
	ch, err := r.t.readyChannel()
	if err != nil {
		return nil, err
	}

	var received []*transport.ReceivedMessage
	for len(received) < max(maxMessages, 1) {
		d, ok, err := ch.Get(r.t.queueName, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		received = append(received, fromDelivery(d))
	}
	return received, nil
}

// CompleteMessage acks the delivery.
func (r *Receiver) CompleteMessage(_ context.Context, m *transport.ReceivedMessage) error {
	d, err := nativeDelivery(m)
	if err != nil {
		return err
	}
	return d.Ack(false)
}

// AbandonMessage nacks the delivery and requeues it.
func (r *Receiver) AbandonMessage(_ context.Context, m *transport.ReceivedMessage) error {
	d, err := nativeDelivery(m)
	if err != nil {
		return err
	}
	return d.Nack(false, true)
}

// DeferMessage is not available: RabbitMQ cannot fetch a message by
// sequence number. The delivery is requeued so it does not stay unacked.
func (r *Receiver) DeferMessage(_ context.Context, m *transport.ReceivedMessage) error {
	d, err := nativeDelivery(m)
	if err != nil {
		return err
	}
	if err := d.Nack(false, true); err != nil {
		return errors.Join(transport.ErrUnsupported, fmt.Errorf("requeue deferred message: %w", err))
	}
	return transport.ErrUnsupported
}

// DeadLetterMessage republishes the delivery to the dead-letter queue with
// reason and description headers and acks the original once confirmed.
func (r *Receiver) DeadLetterMessage(ctx context.Context, m *transport.ReceivedMessage, reason, description string) error {
	d, err := nativeDelivery(m)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderDeadLetterReason] = reason
	headers[HeaderDeadLetterDescription] = description

	if err := r.t.publish(ctx, r.t.deadLetterQueue, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		MessageId:    d.MessageId,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         d.Body,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", r.t.deadLetterQueue, err)
	}

	return d.Ack(false)
}

// Close is a no-op; the channel is closed with the Transport.
func (r *Receiver) Close(_ context.Context) error { return nil }

func nativeDelivery(m *transport.ReceivedMessage) (*amqp.Delivery, error) {
	if m == nil {
		return nil, errForeignMessage
	}
	d, ok := m.Native.(*amqp.Delivery)
	if !ok || d == nil || d.Acknowledger == nil {
		return nil, errForeignMessage
	}
	return d, nil
}

func toPublishing(m *transport.Message) amqp.Publishing {
	p := amqp.Publishing{
		ContentType:  m.ContentType,
		MessageId:    m.MessageID,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         m.Body,
	}
	if len(m.Properties) > 0 {
		p.Headers = make(amqp.Table, len(m.Properties))
		for k, v := range m.Properties {
			p.Headers[k] = v
		}
	}
	return p
}

func fromDelivery(d amqp.Delivery) *transport.ReceivedMessage {
	rm := &transport.ReceivedMessage{
		MessageID:      d.MessageId,
		SequenceNumber: int64(d.DeliveryTag),
		DeliveryCount:  deliveryCount(d),
		Body:           d.Body,
		Native:         &d,
	}
	if len(d.Headers) > 0 {
		rm.Properties = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			rm.Properties[k] = fmt.Sprint(v)
		}
	}
	return rm
}

// deliveryCount prefers the quorum queue counter and falls back to the
// redelivered flag.
func deliveryCount(d amqp.Delivery) uint32 {
	switch v := d.Headers[headerDeliveryCount].(type) {
	case int64:
		return uint32(v) + 1
	case int32:
		return uint32(v) + 1
	case string:
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n) + 1
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

// Ensure the adapter implements the transport interfaces.
var (
	_ transport.Sender   = (*Sender)(nil)
	_ transport.Receiver = (*Receiver)(nil)

	_ Channel = (*amqp.Channel)(nil)
)

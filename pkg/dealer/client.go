// Package dealer provides a typed client over a managed message queue.
// Payloads are serialized to JSON and handed to a transport.Sender; received
// messages are settled through a transport.Receiver. The client performs no
// retries: every failure is logged and returned to the caller.
package dealer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/busdealer/pkg/logger"
	"procodus.dev/busdealer/pkg/metrics"
	"procodus.dev/busdealer/pkg/transport"
)

const contentTypeJSON = "application/json"

// Send modes, used as the "mode" label of send metrics and logs.
const (
	modeSingle = "single"
	modeList   = "list"
	modeMany   = "many"
	modeBatch  = "batch"
)

// Client sends payloads of type T and settles received messages.
// It holds no mutable state besides its transport handles and is safe for
// concurrent use when the transport is.
type Client[T any] struct {
	sender      transport.Sender
	receiver    transport.Receiver
	closer      func(context.Context) error
	logger      *slog.Logger
	metrics     *metrics.DealerMetrics
	queueName   string
	receiveWait time.Duration
	handleWait  time.Duration
	messageID   func() string

	closeOnce sync.Once
	closeErr  error
}

// New creates a client over injected transport handles. A nil receiver is
// allowed for send-only clients; receive operations then fail with
// ErrReceiverRequired.
func New[T any](sender transport.Sender, receiver transport.Receiver, opts ...Option) (*Client[T], error) {
	if sender == nil {
		return nil, ErrSenderRequired
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client[T]{
		sender:      sender,
		receiver:    receiver,
		closer:      o.closer,
		logger:      logger.ForQueue(o.logger, "dealer", o.queueName),
		metrics:     o.metrics,
		queueName:   o.queueName,
		receiveWait: o.receiveWait,
		handleWait:  o.handleWait,
		messageID:   o.messageID,
	}, nil
}

// SendMessage serializes payload and sends it as one message.
func (c *Client[T]) SendMessage(ctx context.Context, payload T) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.SendDuration.WithLabelValues(c.queueName, modeSingle))
		defer timer.ObserveDuration()
	}

	body, err := Serialize(payload)
	if err != nil {
		return c.sendFailed(modeSingle, err)
	}

	if err := c.sender.SendMessage(ctx, c.wrap(body)); err != nil {
		return c.sendFailed(modeSingle, &TransportError{Op: "send message", Err: err})
	}

	c.sent(modeSingle, 1)
	return nil
}

// SendListAsMessage serializes the whole list as one JSON array and sends it
// as a single message. Receivers get one message holding an array.
func (c *Client[T]) SendListAsMessage(ctx context.Context, payloads []T) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.SendDuration.WithLabelValues(c.queueName, modeList))
		defer timer.ObserveDuration()
	}

	body, err := SerializeMany(payloads)
	if err != nil {
		return c.sendFailed(modeList, err)
	}

	if err := c.sender.SendMessage(ctx, c.wrap(body)); err != nil {
		return c.sendFailed(modeList, &TransportError{Op: "send list message", Err: err})
	}

	c.sent(modeList, 1, "payload_count", len(payloads))
	return nil
}

// SendMessages serializes each payload into its own message and hands them
// all to the transport in one call, without capacity accounting.
// An empty list sends nothing.
func (c *Client[T]) SendMessages(ctx context.Context, payloads []T) error {
	if len(payloads) == 0 {
		return nil
	}

	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.SendDuration.WithLabelValues(c.queueName, modeMany))
		defer timer.ObserveDuration()
	}

	messages, err := c.wrapAll(payloads)
	if err != nil {
		return c.sendFailed(modeMany, err)
	}

	if err := c.sender.SendMessages(ctx, messages); err != nil {
		return c.sendFailed(modeMany, &TransportError{Op: "send messages", Err: err})
	}

	c.sent(modeMany, len(messages))
	return nil
}

// SendBatchOfMessages serializes every payload, then sends them in as few
// capacity-bounded batches as the transport allows, preserving order.
// Batches are sent one after the other.
func (c *Client[T]) SendBatchOfMessages(ctx context.Context, payloads []T) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.SendDuration.WithLabelValues(c.queueName, modeBatch))
		defer timer.ObserveDuration()
	}

	messages, err := c.wrapAll(payloads)
	if err != nil {
		return c.sendFailed(modeBatch, err)
	}

	batches, err := packAndSend(ctx, c.sender, messages)
	if c.metrics != nil && batches > 0 {
		c.metrics.BatchesSent.WithLabelValues(c.queueName).Add(float64(batches))
	}
	if err != nil {
		return c.sendFailed(modeBatch, err, "batch_count", batches)
	}

	c.sent(modeBatch, len(messages), "batch_count", batches)
	return nil
}

// ReceiveBatch receives up to maxCount messages, waiting at most maxWait
// (the configured receive wait when maxWait <= 0), and returns their bodies
// in receipt order. An expired wait yields an empty slice and no error.
// Received messages are not settled.
func (c *Client[T]) ReceiveBatch(ctx context.Context, maxCount int, maxWait time.Duration) ([]string, error) {
	if maxCount <= 0 {
		return nil, ErrInvalidMaxCount
	}
	if c.receiver == nil {
		return nil, ErrReceiverRequired
	}
	if maxWait <= 0 {
		maxWait = c.receiveWait
	}

	messages, err := c.receive(ctx, maxCount, maxWait)
	if err != nil {
		c.logger.Error("failed to receive messages", "error", err, "max_count", maxCount)
		return nil, err
	}

	bodies := make([]string, 0, len(messages))
	for _, m := range messages {
		bodies = append(bodies, string(m.Body))
	}

	c.logger.Debug("messages received", "message_count", len(bodies), "max_count", maxCount)
	return bodies, nil
}

// HandleMessage receives one message, waiting at most the configured handle
// wait, and applies d to it. It returns nil, nil when no message arrived.
// A DeadLetter without both reason and description is skipped: nothing is
// received or settled.
func (c *Client[T]) HandleMessage(ctx context.Context, d Disposition) (*Settlement, error) {
	if d == nil {
		return nil, ErrUnknownDisposition
	}
	if c.receiver == nil {
		return nil, ErrReceiverRequired
	}
	if dl, ok := d.(DeadLetter); ok && !dl.annotated() {
		c.logger.Debug("dead-letter skipped, reason and description are required")
		return nil, nil
	}

	messages, err := c.receive(ctx, 1, c.handleWait)
	if err != nil {
		c.logger.Error("failed to receive message", "error", err, "action", d.Action().String())
		return nil, err
	}
	if len(messages) == 0 {
		c.logger.Debug("no message to handle", "action", d.Action().String())
		return nil, nil
	}

	return c.settleOne(ctx, messages[0], d)
}

// HandleDeferredMessage fetches the deferred message with sequenceNumber,
// waiting at most the configured handle wait, and applies d to it. It
// returns nil, nil when no such message exists. Backends that cannot fetch
// by sequence number fail with transport.ErrUnsupported.
func (c *Client[T]) HandleDeferredMessage(ctx context.Context, sequenceNumber int64, d Disposition) (*Settlement, error) {
	if d == nil {
		return nil, ErrUnknownDisposition
	}
	if c.receiver == nil {
		return nil, ErrReceiverRequired
	}
	deferred, ok := c.receiver.(transport.DeferredReceiver)
	if !ok {
		return nil, &TransportError{Op: "receive deferred message", Err: transport.ErrUnsupported}
	}
	if dl, ok := d.(DeadLetter); ok && !dl.annotated() {
		c.logger.Debug("dead-letter skipped, reason and description are required")
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.handleWait)
	defer cancel()

	messages, err := deferred.ReceiveDeferred(waitCtx, sequenceNumber)
	if err != nil {
		err = &TransportError{Op: "receive deferred message", Err: err}
		c.logger.Error("failed to receive deferred message", "error", err, "sequence_number", sequenceNumber)
		return nil, err
	}
	if len(messages) == 0 {
		c.logger.Debug("no deferred message", "sequence_number", sequenceNumber)
		return nil, nil
	}

	return c.settleOne(ctx, messages[0], d)
}

// settleOne applies d to msg and records the outcome.
func (c *Client[T]) settleOne(ctx context.Context, msg *transport.ReceivedMessage, d Disposition) (*Settlement, error) {
	if err := c.settle(ctx, msg, d); err != nil {
		if c.metrics != nil {
			c.metrics.DispositionFailures.WithLabelValues(c.queueName, d.Action().String()).Inc()
		}
		if !errors.Is(err, ErrUnknownDisposition) {
			err = &TransportError{Op: d.Action().String() + " message", Err: err}
		}
		c.logger.Error("failed to settle message",
			"error", err,
			"action", d.Action().String(),
			"message_id", msg.MessageID,
		)
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.Dispositions.WithLabelValues(c.queueName, d.Action().String()).Inc()
	}
	c.logger.Info("message settled",
		"action", d.Action().String(),
		"message_id", msg.MessageID,
		"delivery_count", msg.DeliveryCount,
	)

	return &Settlement{
		MessageID:      msg.MessageID,
		SequenceNumber: msg.SequenceNumber,
		DeliveryCount:  msg.DeliveryCount,
		Body:           string(msg.Body),
		Action:         d.Action(),
	}, nil
}

// Close closes the receiver, the sender and finally the owning connection.
// Subsequent calls return the first result.
func (c *Client[T]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.receiver != nil {
			if err := c.receiver.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.sender.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if c.closer != nil {
			if err := c.closer(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// receive applies the wait ceiling to one ReceiveMessages call. Expiry of
// the ceiling is not an error; cancellation by the caller is.
func (c *Client[T]) receive(ctx context.Context, maxCount int, wait time.Duration) ([]*transport.ReceivedMessage, error) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ReceiveDuration.WithLabelValues(c.queueName))
		defer timer.ObserveDuration()
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	messages, err := c.receiver.ReceiveMessages(waitCtx, maxCount)
	if err != nil {
		if ctx.Err() == nil && (waitCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded)) {
			return nil, nil
		}
		return nil, &TransportError{Op: "receive messages", Err: err}
	}

	if c.metrics != nil && len(messages) > 0 {
		c.metrics.MessagesReceived.WithLabelValues(c.queueName).Add(float64(len(messages)))
	}
	return messages, nil
}

func (c *Client[T]) settle(ctx context.Context, msg *transport.ReceivedMessage, d Disposition) error {
	switch d := d.(type) {
	case Complete:
		return c.receiver.CompleteMessage(ctx, msg)
	case Abandon:
		return c.receiver.AbandonMessage(ctx, msg)
	case Defer:
		return c.receiver.DeferMessage(ctx, msg)
	case DeadLetter:
		return c.receiver.DeadLetterMessage(ctx, msg, d.Reason, d.Description)
	default:
		return ErrUnknownDisposition
	}
}

func (c *Client[T]) wrap(body string) *transport.Message {
	return &transport.Message{
		MessageID:   c.messageID(),
		ContentType: contentTypeJSON,
		Body:        []byte(body),
	}
}

// wrapAll serializes every payload before anything is sent.
func (c *Client[T]) wrapAll(payloads []T) ([]*transport.Message, error) {
	messages := make([]*transport.Message, 0, len(payloads))
	for _, p := range payloads {
		body, err := Serialize(p)
		if err != nil {
			return nil, err
		}
		messages = append(messages, c.wrap(body))
	}
	return messages, nil
}

func (c *Client[T]) sent(mode string, count int, attrs ...any) {
	if c.metrics != nil {
		c.metrics.MessagesSent.WithLabelValues(c.queueName, mode).Add(float64(count))
	}
	c.logger.Debug("messages sent", append([]any{"mode", mode, "message_count", count}, attrs...)...)
}

func (c *Client[T]) sendFailed(mode string, err error, attrs ...any) error {
	if c.metrics != nil {
		c.metrics.SendFailures.WithLabelValues(c.queueName, mode, failureReason(err)).Inc()
	}
	c.logger.Error("failed to send", append([]any{"mode", mode, "error", err}, attrs...)...)
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrMessageTooLarge):
		return "message_too_large"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context_canceled"
	default:
		return "transport"
	}
}

// Package transport defines the queue operations the dealer depends on.
// Backend adapters (Service Bus, SQS, RabbitMQ) and test doubles implement
// these interfaces; the dealer never talks to an SDK directly.
package transport

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by adapters for operations the backend cannot express.
var ErrUnsupported = errors.New("operation not supported by transport")

// Message is a transport-ready message. Ownership passes to the transport on send.
type Message struct {
	MessageID   string
	ContentType string
	Body        []byte
	Properties  map[string]string
}

// ReceivedMessage is a message handed out by a Receiver in peek-lock mode.
// It must be settled exactly once through the Receiver that returned it.
type ReceivedMessage struct {
	MessageID      string
	SequenceNumber int64
	DeliveryCount  uint32
	Body           []byte
	Properties     map[string]string

	// Native holds the backend handle needed to settle the message.
	Native any
}

// MessageBatch is a capacity-bounded container of messages sent in one call.
type MessageBatch interface {
	// TryAddMessage adds m if it fits. It returns false, nil when the batch
	// cannot hold it; a non-nil error means the add itself failed.
	TryAddMessage(m *Message) (bool, error)

	// NumMessages reports how many messages the batch holds.
	NumMessages() int
}

// Sender sends messages to a single queue.
type Sender interface {
	// SendMessage sends one message.
	SendMessage(ctx context.Context, m *Message) error

	// SendMessages sends all messages in as few calls as the backend allows,
	// without capacity accounting. Oversized inputs fail in the backend.
	SendMessages(ctx context.Context, messages []*Message) error

	// NewMessageBatch opens an empty batch sized by the backend's limits.
	NewMessageBatch(ctx context.Context) (MessageBatch, error)

	// SendMessageBatch sends a batch obtained from NewMessageBatch.
	SendMessageBatch(ctx context.Context, batch MessageBatch) error

	Close(ctx context.Context) error
}

// Receiver receives and settles messages from a single queue.
type Receiver interface {
	// ReceiveMessages blocks until at least one message is available or ctx
	// is done, and returns at most maxMessages messages in receipt order.
	// When ctx ends before anything arrives it returns ctx.Err().
	ReceiveMessages(ctx context.Context, maxMessages int) ([]*ReceivedMessage, error)

	CompleteMessage(ctx context.Context, m *ReceivedMessage) error
	AbandonMessage(ctx context.Context, m *ReceivedMessage) error
	DeferMessage(ctx context.Context, m *ReceivedMessage) error
	DeadLetterMessage(ctx context.Context, m *ReceivedMessage, reason, description string) error

	Close(ctx context.Context) error
}

// DeferredReceiver is a Receiver that can fetch deferred messages by
// sequence number. Fetched messages are locked and must be settled.
type DeferredReceiver interface {
	Receiver

	ReceiveDeferred(ctx context.Context, sequenceNumbers ...int64) ([]*ReceivedMessage, error)
}

// Package mock provides mock implementations of the transport interfaces for testing.
package mock

import (
	"context"
	"errors"
	"sync"

	"procodus.dev/busdealer/pkg/transport"
)

// Default capacity of batches handed out by MockSender.
const (
	DefaultBatchMaxMessages = 100
	DefaultBatchMaxBytes    = 256 * 1024
)

// ErrAlreadySettled is returned when a message is settled a second time.
var ErrAlreadySettled = errors.New("message already settled")

// MockSender is a mock implementation of transport.Sender.
// It tracks method calls and allows configuring return values and behavior.
type MockSender struct {
	mu sync.Mutex

	// SendMessageFunc is called when SendMessage is invoked. If nil, returns SendMessageError.
	SendMessageFunc func(ctx context.Context, m *transport.Message) error
	// SendMessageError is returned by SendMessage if SendMessageFunc is nil.
	SendMessageError error
	// SendMessageCalls tracks all calls to SendMessage with their arguments.
	SendMessageCalls []SendMessageCall

	// SendMessagesFunc is called when SendMessages is invoked. If nil, returns SendMessagesError.
	SendMessagesFunc func(ctx context.Context, messages []*transport.Message) error
	// SendMessagesError is returned by SendMessages if SendMessagesFunc is nil.
	SendMessagesError error
	// SendMessagesCalls tracks all calls to SendMessages with their arguments.
	SendMessagesCalls []SendMessagesCall

	// BatchMaxMessages and BatchMaxBytes size the batches from NewMessageBatch.
	BatchMaxMessages int
	BatchMaxBytes    int
	// NewMessageBatchError is returned by NewMessageBatch when set.
	NewMessageBatchError error
	// NewMessageBatchCalls tracks the number of times NewMessageBatch was called.
	NewMessageBatchCalls int

	// SendMessageBatchFunc is called when SendMessageBatch is invoked. If nil, returns SendMessageBatchError.
	SendMessageBatchFunc func(ctx context.Context, batch transport.MessageBatch) error
	// SendMessageBatchError is returned by SendMessageBatch if SendMessageBatchFunc is nil.
	SendMessageBatchError error
	// SentBatches holds the messages of every batch passed to SendMessageBatch, in call order.
	SentBatches [][]*transport.Message

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls tracks the number of times Close was called.
	CloseCalls int
}

// SendMessageCall records the arguments to a SendMessage call.
type SendMessageCall struct {
	Ctx     context.Context
	Message *transport.Message
}

// SendMessagesCall records the arguments to a SendMessages call.
type SendMessagesCall struct {
	Ctx      context.Context
	Messages []*transport.Message
}

// NewMockSender creates a new MockSender with default behavior (no errors).
func NewMockSender() *MockSender {
	return &MockSender{
		SendMessageCalls:  make([]SendMessageCall, 0),
		SendMessagesCalls: make([]SendMessagesCall, 0),
		SentBatches:       make([][]*transport.Message, 0),
		BatchMaxMessages:  DefaultBatchMaxMessages,
		BatchMaxBytes:     DefaultBatchMaxBytes,
	}
}

// SendMessage implements transport.Sender.
func (m *MockSender) SendMessage(ctx context.Context, msg *transport.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendMessageCalls = append(m.SendMessageCalls, SendMessageCall{Ctx: ctx, Message: msg})

	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, msg)
	}
	return m.SendMessageError
}

// SendMessages implements transport.Sender.
func (m *MockSender) SendMessages(ctx context.Context, messages []*transport.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendMessagesCalls = append(m.SendMessagesCalls, SendMessagesCall{Ctx: ctx, Messages: messages})

	if m.SendMessagesFunc != nil {
		return m.SendMessagesFunc(ctx, messages)
	}
	return m.SendMessagesError
}

// NewMessageBatch implements transport.Sender.
func (m *MockSender) NewMessageBatch(_ context.Context) (transport.MessageBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NewMessageBatchCalls++

	if m.NewMessageBatchError != nil {
		return nil, m.NewMessageBatchError
	}
	return transport.NewSizedBatch(m.BatchMaxMessages, m.BatchMaxBytes)
}

// SendMessageBatch implements transport.Sender.
func (m *MockSender) SendMessageBatch(ctx context.Context, batch transport.MessageBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sized, ok := batch.(*transport.SizedBatch); ok {
		m.SentBatches = append(m.SentBatches, sized.Messages())
	}

	if m.SendMessageBatchFunc != nil {
		return m.SendMessageBatchFunc(ctx, batch)
	}
	return m.SendMessageBatchError
}

// Close implements transport.Sender.
func (m *MockSender) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// SentBodies returns the bodies of every message that reached the sender,
// across all send methods, in call order.
func (m *MockSender) SentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	bodies := make([]string, 0)
	for _, call := range m.SendMessageCalls {
		bodies = append(bodies, string(call.Message.Body))
	}
	for _, call := range m.SendMessagesCalls {
		for _, msg := range call.Messages {
			bodies = append(bodies, string(msg.Body))
		}
	}
	for _, batch := range m.SentBatches {
		for _, msg := range batch {
			bodies = append(bodies, string(msg.Body))
		}
	}
	return bodies
}

// Reset clears all tracked calls.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendMessageCalls = make([]SendMessageCall, 0)
	m.SendMessagesCalls = make([]SendMessagesCall, 0)
	m.SentBatches = make([][]*transport.Message, 0)
	m.NewMessageBatchCalls = 0
	m.CloseCalls = 0
}

// Ensure MockSender implements transport.Sender.
var _ transport.Sender = (*MockSender)(nil)

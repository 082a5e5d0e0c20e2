package mock

import (
	"context"
	"sync"

	"procodus.dev/busdealer/pkg/transport"
)

// MockReceiver is a mock implementation of transport.Receiver.
// Pending messages are handed out in order; settlements are recorded and a
// second settlement of the same message fails with ErrAlreadySettled.
type MockReceiver struct {
	mu sync.Mutex

	// Pending holds the messages ReceiveMessages will hand out, in order.
	Pending []*transport.ReceivedMessage
	// ReceiveMessagesFunc is called when ReceiveMessages is invoked. If nil, Pending is drained.
	ReceiveMessagesFunc func(ctx context.Context, maxMessages int) ([]*transport.ReceivedMessage, error)
	// ReceiveError is returned by ReceiveMessages if ReceiveMessagesFunc is nil.
	ReceiveError error
	// ReceiveCalls tracks the maxMessages argument of every ReceiveMessages call.
	ReceiveCalls []int

	// Deferred holds the messages ReceiveDeferred serves, by sequence number.
	Deferred map[int64]*transport.ReceivedMessage
	// ReceiveDeferredError is returned by ReceiveDeferred when set.
	ReceiveDeferredError error
	// ReceiveDeferredCalls tracks the sequence numbers of every ReceiveDeferred call.
	ReceiveDeferredCalls [][]int64

	CompleteError   error
	AbandonError    error
	DeferError      error
	DeadLetterError error

	CompleteCalls   []*transport.ReceivedMessage
	AbandonCalls    []*transport.ReceivedMessage
	DeferCalls      []*transport.ReceivedMessage
	DeadLetterCalls []DeadLetterCall

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls tracks the number of times Close was called.
	CloseCalls int

	settled map[*transport.ReceivedMessage]bool
}

// DeadLetterCall records the arguments to a DeadLetterMessage call.
type DeadLetterCall struct {
	Message     *transport.ReceivedMessage
	Reason      string
	Description string
}

// NewMockReceiver creates a MockReceiver that hands out the given messages.
func NewMockReceiver(pending ...*transport.ReceivedMessage) *MockReceiver {
	return &MockReceiver{
		Pending:         pending,
		Deferred:        make(map[int64]*transport.ReceivedMessage),
		ReceiveCalls:    make([]int, 0),
		CompleteCalls:   make([]*transport.ReceivedMessage, 0),
		AbandonCalls:    make([]*transport.ReceivedMessage, 0),
		DeferCalls:      make([]*transport.ReceivedMessage, 0),
		DeadLetterCalls: make([]DeadLetterCall, 0),
		settled:         make(map[*transport.ReceivedMessage]bool),
	}
}

// NewReceivedMessages builds pending messages from plain bodies.
func NewReceivedMessages(bodies ...string) []*transport.ReceivedMessage {
	out := make([]*transport.ReceivedMessage, 0, len(bodies))
	for i, body := range bodies {
		out = append(out, &transport.ReceivedMessage{
			MessageID:      "msg-" + body,
			SequenceNumber: int64(i + 1),
			DeliveryCount:  1,
			Body:           []byte(body),
		})
	}
	return out
}

// ReceiveMessages implements transport.Receiver. With nothing pending it
// blocks until ctx is done, like a real receiver waiting for messages.
func (m *MockReceiver) ReceiveMessages(ctx context.Context, maxMessages int) ([]*transport.ReceivedMessage, error) {
	m.mu.Lock()
	m.ReceiveCalls = append(m.ReceiveCalls, maxMessages)

	if m.ReceiveMessagesFunc != nil {
		fn := m.ReceiveMessagesFunc
		m.mu.Unlock()
		return fn(ctx, maxMessages)
	}

	if m.ReceiveError != nil {
		err := m.ReceiveError
		m.mu.Unlock()
		return nil, err
	}

	if len(m.Pending) > 0 {
		n := min(maxMessages, len(m.Pending))
		out := m.Pending[:n:n]
		m.Pending = m.Pending[n:]
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

// ReceiveDeferred implements transport.DeferredReceiver. Unknown sequence
// numbers are skipped; a fetched message is removed from Deferred.
func (m *MockReceiver) ReceiveDeferred(_ context.Context, sequenceNumbers ...int64) ([]*transport.ReceivedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReceiveDeferredCalls = append(m.ReceiveDeferredCalls, sequenceNumbers)
	if m.ReceiveDeferredError != nil {
		return nil, m.ReceiveDeferredError
	}

	out := make([]*transport.ReceivedMessage, 0, len(sequenceNumbers))
	for _, seq := range sequenceNumbers {
		if msg, ok := m.Deferred[seq]; ok {
			out = append(out, msg)
			delete(m.Deferred, seq)
		}
	}
	return out, nil
}

// CompleteMessage implements transport.Receiver.
func (m *MockReceiver) CompleteMessage(_ context.Context, msg *transport.ReceivedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompleteCalls = append(m.CompleteCalls, msg)
	return m.settle(msg, m.CompleteError)
}

// AbandonMessage implements transport.Receiver.
func (m *MockReceiver) AbandonMessage(_ context.Context, msg *transport.ReceivedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AbandonCalls = append(m.AbandonCalls, msg)
	return m.settle(msg, m.AbandonError)
}

// DeferMessage implements transport.Receiver.
func (m *MockReceiver) DeferMessage(_ context.Context, msg *transport.ReceivedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeferCalls = append(m.DeferCalls, msg)
	return m.settle(msg, m.DeferError)
}

// DeadLetterMessage implements transport.Receiver.
func (m *MockReceiver) DeadLetterMessage(_ context.Context, msg *transport.ReceivedMessage, reason, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeadLetterCalls = append(m.DeadLetterCalls, DeadLetterCall{
		Message:     msg,
		Reason:      reason,
		Description: description,
	})
	return m.settle(msg, m.DeadLetterError)
}

// settle must be called with mu held.
func (m *MockReceiver) settle(msg *transport.ReceivedMessage, configured error) error {
	if configured != nil {
		return configured
	}
	if m.settled[msg] {
		return ErrAlreadySettled
	}
	m.settled[msg] = true
	return nil
}

// Close implements transport.Receiver.
func (m *MockReceiver) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// SettlementCount reports the total number of settlement calls of any kind.
func (m *MockReceiver) SettlementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.CompleteCalls) + len(m.AbandonCalls) + len(m.DeferCalls) + len(m.DeadLetterCalls)
}

// Ensure MockReceiver implements transport.DeferredReceiver.
var _ transport.DeferredReceiver = (*MockReceiver)(nil)

package transport

import (
	"errors"
	"sync"
)

var errInvalidBatchLimits = errors.New("batch limits must be greater than 0")

// SizedBatch is a MessageBatch bounded by message count and total body size.
// Backends without a native batch type use it as their capacity oracle.
type SizedBatch struct {
	mu          sync.Mutex
	size        SizeFunc
	maxMessages int
	maxBytes    int
	numBytes    int
	messages    []*Message
}

// SizeFunc reports the number of bytes a message counts against a batch limit.
type SizeFunc func(*Message) int

// NewSizedBatch creates an empty batch holding at most maxMessages messages
// whose MessageSize values add up to at most maxBytes.
func NewSizedBatch(maxMessages, maxBytes int) (*SizedBatch, error) {
	return NewSizedBatchFunc(maxMessages, maxBytes, MessageSize)
}

// NewSizedBatchFunc is NewSizedBatch with the backend's own size accounting.
// A nil size uses MessageSize.
func NewSizedBatchFunc(maxMessages, maxBytes int, size SizeFunc) (*SizedBatch, error) {
	if maxMessages <= 0 || maxBytes <= 0 {
		return nil, errInvalidBatchLimits
	}
	if size == nil {
		size = MessageSize
	}

	return &SizedBatch{
		size:        size,
		maxMessages: maxMessages,
		maxBytes:    maxBytes,
		messages:    make([]*Message, 0, min(maxMessages, 16)),
	}, nil
}

// MessageSize approximates the encoded size of m: body plus property keys and values.
func MessageSize(m *Message) int {
	size := len(m.Body)
	for k, v := range m.Properties {
		size += len(k) + len(v)
	}
	return size
}

// TryAddMessage implements MessageBatch.
func (b *SizedBatch) TryAddMessage(m *Message) (bool, error) {
	if m == nil {
		return false, errors.New("message is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.size(m)
	if len(b.messages) >= b.maxMessages || b.numBytes+size > b.maxBytes {
		return false, nil
	}

	b.messages = append(b.messages, m)
	b.numBytes += size
	return true, nil
}

// SizeOf reports how many bytes m counts against this batch.
func (b *SizedBatch) SizeOf(m *Message) int {
	return b.size(m)
}

// NumMessages implements MessageBatch.
func (b *SizedBatch) NumMessages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// NumBytes reports the accumulated size of the batch.
func (b *SizedBatch) NumBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numBytes
}

// Messages returns the batched messages in insertion order.
func (b *SizedBatch) Messages() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Ensure SizedBatch implements MessageBatch.
var _ MessageBatch = (*SizedBatch)(nil)

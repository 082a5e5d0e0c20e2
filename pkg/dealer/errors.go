package dealer

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization matches every *SerializationError.
	ErrSerialization = errors.New("payload serialization failed")
	// ErrMessageTooLarge matches every *MessageTooLargeError.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport operation failed")

	ErrSenderRequired           = errors.New("sender is required")
	ErrReceiverRequired         = errors.New("receiver is required")
	ErrInvalidMaxCount          = errors.New("max count must be greater than 0")
	ErrUnknownDisposition       = errors.New("unknown disposition")
	ErrUnknownBackend           = errors.New("unknown backend")
	ErrConnectionStringRequired = errors.New("connection string is required")
	ErrQueueNameRequired        = errors.New("queue name is required")
)

// SerializationError reports a payload that cannot be encoded as JSON.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "serialize payload: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// MessageTooLargeError reports a message that does not fit even an empty batch.
// Position is the 1-based index of the message in the input.
type MessageTooLargeError struct {
	Position int
	Size     int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message %d is too large and cannot be sent (%d bytes)", e.Position, e.Size)
}

func (e *MessageTooLargeError) Is(target error) bool { return target == ErrMessageTooLarge }

// TransportError wraps any failure surfaced by the underlying transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

package dealer

import (
	"context"
	"time"
)

// ClientInterface is the operation set of Client, for callers that want to
// substitute the dealer in their own tests.
type ClientInterface[T any] interface {
	// SendMessage sends payload as one message.
	SendMessage(ctx context.Context, payload T) error

	// SendListAsMessage sends all payloads as one message holding a JSON array.
	SendListAsMessage(ctx context.Context, payloads []T) error

	// SendMessages sends one message per payload in a single transport call.
	SendMessages(ctx context.Context, payloads []T) error

	// SendBatchOfMessages sends one message per payload in capacity-bounded batches.
	SendBatchOfMessages(ctx context.Context, payloads []T) error

	// ReceiveBatch returns up to maxCount message bodies without settling them.
	ReceiveBatch(ctx context.Context, maxCount int, maxWait time.Duration) ([]string, error)

	// HandleMessage receives one message and settles it with d.
	HandleMessage(ctx context.Context, d Disposition) (*Settlement, error)

	// HandleDeferredMessage fetches a deferred message by sequence number and settles it with d.
	HandleDeferredMessage(ctx context.Context, sequenceNumber int64, d Disposition) (*Settlement, error)

	Close(ctx context.Context) error
}

// Ensure Client implements ClientInterface.
var _ ClientInterface[any] = (*Client[any])(nil)

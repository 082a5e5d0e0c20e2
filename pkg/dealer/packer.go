package dealer

import (
	"context"

	"procodus.dev/busdealer/pkg/transport"
)

// packAndSend greedily fills batches from the head of messages and sends
// each one before opening the next. It returns the number of batches sent.
// A message an empty batch rejects fails the whole call with
// *MessageTooLargeError; batches sent before that stay sent.
func packAndSend(ctx context.Context, sender transport.Sender, messages []*transport.Message) (int, error) {
	pending := messages
	position := 0
	batches := 0

	for len(pending) > 0 {
		batch, err := sender.NewMessageBatch(ctx)
		if err != nil {
			return batches, &TransportError{Op: "create message batch", Err: err}
		}

		ok, err := batch.TryAddMessage(pending[0])
		if err != nil {
			return batches, &TransportError{Op: "add message to batch", Err: err}
		}
		if !ok {
			return batches, &MessageTooLargeError{
				Position: position + 1,
				Size:     messageSize(batch, pending[0]),
			}
		}
		pending = pending[1:]
		position++

		for len(pending) > 0 {
			ok, err := batch.TryAddMessage(pending[0])
			if err != nil {
				return batches, &TransportError{Op: "add message to batch", Err: err}
			}
			if !ok {
				break
			}
			pending = pending[1:]
			position++
		}

		if err := sender.SendMessageBatch(ctx, batch); err != nil {
			return batches, &TransportError{Op: "send message batch", Err: err}
		}
		batches++
	}

	return batches, nil
}

// messageSize uses the batch's own accounting when it exposes one.
func messageSize(batch transport.MessageBatch, m *transport.Message) int {
	if s, ok := batch.(interface{ SizeOf(*transport.Message) int }); ok {
		return s.SizeOf(m)
	}
	return transport.MessageSize(m)
}

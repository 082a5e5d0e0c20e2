// Package servicebus adapts the Azure Service Bus SDK to the transport interfaces.
package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"procodus.dev/busdealer/pkg/transport"
)

// Options configures Open.
type Options struct {
	Logger *slog.Logger
	// ClientOptions is passed to the SDK client unchanged.
	ClientOptions *azservicebus.ClientOptions
}

// SDKSender is the subset of *azservicebus.Sender the adapter uses.
type SDKSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	NewMessageBatch(ctx context.Context, options *azservicebus.MessageBatchOptions) (*azservicebus.MessageBatch, error)
	SendMessageBatch(ctx context.Context, batch *azservicebus.MessageBatch, options *azservicebus.SendMessageBatchOptions) error
	Close(ctx context.Context) error
}

// SDKReceiver is the subset of *azservicebus.Receiver the adapter uses.
type SDKReceiver interface {
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	ReceiveDeferredMessages(ctx context.Context, sequenceNumbers []int64, options *azservicebus.ReceiveDeferredMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeferMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeferMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	Close(ctx context.Context) error
}

var errForeignMessage = errors.New("message was not received from service bus")

// Transport owns one Service Bus client with a sender and a peek-lock
// receiver bound to the same queue.
type Transport struct {
	client   *azservicebus.Client
	sender   *Sender
	receiver *Receiver
	logger   *slog.Logger
}

// Open connects to the namespace in connectionString and binds queue.
func Open(connectionString, queue string, opts *Options) (*Transport, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	client, err := azservicebus.NewClientFromConnectionString(connectionString, opts.ClientOptions)
	if err != nil {
		return nil, fmt.Errorf("create service bus client: %w", err)
	}

	sender, err := client.NewSender(queue, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("create sender for %q: %w", queue, err)
	}

	receiver, err := client.NewReceiverForQueue(queue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		_ = sender.Close(context.Background())
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("create receiver for %q: %w", queue, err)
	}

	log.Debug("service bus links created")
	return &Transport{
		client:   client,
		sender:   NewSender(sender),
		receiver: NewReceiver(receiver),
		logger:   log,
	}, nil
}

// Sender returns the queue sender.
func (t *Transport) Sender() transport.Sender { return t.sender }

// Receiver returns the peek-lock receiver.
func (t *Transport) Receiver() transport.Receiver { return t.receiver }

// Close closes the client. Links closed by the dealer beforehand are not closed again.
func (t *Transport) Close(ctx context.Context) error {
	if err := t.client.Close(ctx); err != nil {
		t.logger.Error("failed to close service bus client", "error", err)
		return err
	}
	return nil
}

// Sender implements transport.Sender over an SDK sender.
type Sender struct {
	sdk SDKSender
}

// NewSender wraps s, usually an *azservicebus.Sender.
func NewSender(s SDKSender) *Sender {
	return &Sender{sdk: s}
}

// SendMessage implements transport.Sender.
func (s *Sender) SendMessage(ctx context.Context, m *transport.Message) error {
	return s.sdk.SendMessage(ctx, toSDKMessage(m), nil)
}

// SendMessages packs all messages into one SDK batch. It fails with
// azservicebus.ErrMessageTooLarge when they do not fit.
func (s *Sender) SendMessages(ctx context.Context, messages []*transport.Message) error {
	batch, err := s.sdk.NewMessageBatch(ctx, nil)
	if err != nil {
		return err
	}
	for i, m := range messages {
		if err := batch.AddMessage(toSDKMessage(m), nil); err != nil {
			return fmt.Errorf("add message %d of %d: %w", i+1, len(messages), err)
		}
	}
	return s.sdk.SendMessageBatch(ctx, batch, nil)
}

// NewMessageBatch implements transport.Sender.
func (s *Sender) NewMessageBatch(ctx context.Context) (transport.MessageBatch, error) {
	batch, err := s.sdk.NewMessageBatch(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &MessageBatch{batch: batch}, nil
}

// SendMessageBatch implements transport.Sender. Only batches from
// NewMessageBatch are accepted.
func (s *Sender) SendMessageBatch(ctx context.Context, batch transport.MessageBatch) error {
	b, ok := batch.(*MessageBatch)
	if !ok {
		return fmt.Errorf("unsupported batch type %T", batch)
	}
	return s.sdk.SendMessageBatch(ctx, b.batch, nil)
}

// Close implements transport.Sender.
func (s *Sender) Close(ctx context.Context) error {
	return s.sdk.Close(ctx)
}

// MessageBatch wraps *azservicebus.MessageBatch, whose size accounting
// follows the namespace's negotiated link limits.
type MessageBatch struct {
	batch *azservicebus.MessageBatch
}

// TryAddMessage implements transport.MessageBatch.
func (b *MessageBatch) TryAddMessage(m *transport.Message) (bool, error) {
	err := b.batch.AddMessage(toSDKMessage(m), nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, azservicebus.ErrMessageTooLarge):
		return false, nil
	default:
		return false, err
	}
}

// NumMessages implements transport.MessageBatch.
func (b *MessageBatch) NumMessages() int {
	return int(b.batch.NumMessages())
}

// Receiver implements transport.Receiver over an SDK peek-lock receiver.
type Receiver struct {
	sdk SDKReceiver
}

// NewReceiver wraps r, usually an *azservicebus.Receiver.
func NewReceiver(r SDKReceiver) *Receiver {
	return &Receiver{sdk: r}
}

// ReceiveMessages implements transport.Receiver.
func (r *Receiver) ReceiveMessages(ctx context.Context, maxMessages int) ([]*transport.ReceivedMessage, error) {
	received, err := r.sdk.ReceiveMessages(ctx, maxMessages, nil)
	if len(received) == 0 {
		if err == nil {
			err = ctx.Err()
		}
		return nil, err
	}
	return fromSDKMessages(received), nil
}

// ReceiveDeferred fetches deferred messages by sequence number. They are
// locked like regular deliveries and must be settled.
func (r *Receiver) ReceiveDeferred(ctx context.Context, sequenceNumbers ...int64) ([]*transport.ReceivedMessage, error) {
	received, err := r.sdk.ReceiveDeferredMessages(ctx, sequenceNumbers, nil)
	if err != nil {
		return nil, err
	}
	return fromSDKMessages(received), nil
}

// CompleteMessage implements transport.Receiver.
func (r *Receiver) CompleteMessage(ctx context.Context, m *transport.ReceivedMessage) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}
	return r.sdk.CompleteMessage(ctx, native, nil)
}

// AbandonMessage implements transport.Receiver.
func (r *Receiver) AbandonMessage(ctx context.Context, m *transport.ReceivedMessage) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}
	return r.sdk.AbandonMessage(ctx, native, nil)
}

// DeferMessage implements transport.Receiver.
func (r *Receiver) DeferMessage(ctx context.Context, m *transport.ReceivedMessage) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}
	return r.sdk.DeferMessage(ctx, native, nil)
}

// DeadLetterMessage implements transport.Receiver.
func (r *Receiver) DeadLetterMessage(ctx context.Context, m *transport.ReceivedMessage, reason, description string) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}
	return r.sdk.DeadLetterMessage(ctx, native, &azservicebus.DeadLetterOptions{
		Reason:           to.Ptr(reason),
		ErrorDescription: to.Ptr(description),
	})
}

// Close implements transport.Receiver.
func (r *Receiver) Close(ctx context.Context) error {
	return r.sdk.Close(ctx)
}

func nativeMessage(m *transport.ReceivedMessage) (*azservicebus.ReceivedMessage, error) {
	if m == nil {
		return nil, errForeignMessage
	}
	native, ok := m.Native.(*azservicebus.ReceivedMessage)
	if !ok || native == nil {
		return nil, errForeignMessage
	}
	return native, nil
}

func toSDKMessage(m *transport.Message) *azservicebus.Message {
	msg := &azservicebus.Message{Body: m.Body}
	if m.MessageID != "" {
		msg.MessageID = to.Ptr(m.MessageID)
	}
	if m.ContentType != "" {
		msg.ContentType = to.Ptr(m.ContentType)
	}
	if len(m.Properties) > 0 {
		msg.ApplicationProperties = make(map[string]any, len(m.Properties))
		for k, v := range m.Properties {
			msg.ApplicationProperties[k] = v
		}
	}
	return msg
}

func fromSDKMessages(received []*azservicebus.ReceivedMessage) []*transport.ReceivedMessage {
	out := make([]*transport.ReceivedMessage, 0, len(received))
	for _, rm := range received {
		out = append(out, fromSDKMessage(rm))
	}
	return out
}

func fromSDKMessage(rm *azservicebus.ReceivedMessage) *transport.ReceivedMessage {
	m := &transport.ReceivedMessage{
		MessageID:     rm.MessageID,
		DeliveryCount: rm.DeliveryCount,
		Body:          rm.Body,
		Native:        rm,
	}
	if rm.SequenceNumber != nil {
		m.SequenceNumber = *rm.SequenceNumber
	}
	if len(rm.ApplicationProperties) > 0 {
		m.Properties = make(map[string]string, len(rm.ApplicationProperties))
		for k, v := range rm.ApplicationProperties {
			m.Properties[k] = fmt.Sprint(v)
		}
	}
	return m
}

// Ensure the adapter implements the transport interfaces.
var (
	_ transport.Sender       = (*Sender)(nil)
	_ transport.Receiver     = (*Receiver)(nil)
	_ transport.MessageBatch = (*MessageBatch)(nil)

	_ SDKSender   = (*azservicebus.Sender)(nil)
	_ SDKReceiver = (*azservicebus.Receiver)(nil)
)

// Ensure Receiver can fetch deferred messages.
var _ transport.DeferredReceiver = (*Receiver)(nil)

// Package sqs adapts Amazon SQS to the transport interfaces.
//
// Settlement maps onto visibility: complete deletes the message, abandon
// makes it visible again, defer hides it for DeferTimeout, and dead-letter
// copies it to a companion queue before deleting it.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"procodus.dev/busdealer/pkg/transport"
)

const (
	// MaxBatchMessages is the SQS limit on entries per SendMessageBatch.
	MaxBatchMessages = 10
	// MaxBatchBytes is the SQS limit on the total payload of one batch.
	MaxBatchBytes = 256 * 1024

	// MaxVisibilityTimeout is the SQS cap on visibility, counted from receipt.
	MaxVisibilityTimeout = 12 * time.Hour
	// DefaultDeferTimeout hides deferred messages for as long as the cap
	// allows while leaving an hour between receipt and settlement.
	DefaultDeferTimeout = MaxVisibilityTimeout - time.Hour

	// DeadLetterSuffix names the companion queue dead-lettered messages are moved to.
	DeadLetterSuffix = "-deadletter"

	maxWaitTimeSeconds = 20
	shortPollInterval  = 250 * time.Millisecond

	attrDeadLetterReason      = "DeadLetterReason"
	attrDeadLetterDescription = "DeadLetterErrorDescription"
)

var errForeignMessage = errors.New("message was not received from sqs")

// API is the subset of *sqs.Client the adapter uses.
type API interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Options configures Open and New.
type Options struct {
	Logger *slog.Logger
	// DeferTimeout is the visibility applied to deferred messages.
	// Values above DefaultDeferTimeout are lowered to it.
	DeferTimeout time.Duration
	// DeadLetterQueue overrides the default "<queue>-deadletter" name.
	DeadLetterQueue string
}

// BatchEntryError reports entries SQS rejected inside an accepted batch call.
type BatchEntryError struct {
	Failed []types.BatchResultErrorEntry
}

func (e *BatchEntryError) Error() string {
	first := e.Failed[0]
	return fmt.Sprintf("%d batch entries failed, first %s: %s",
		len(e.Failed), aws.ToString(first.Code), aws.ToString(first.Message))
}

// Transport binds one SQS queue.
type Transport struct {
	queue    *queue
	sender   *Sender
	receiver *Receiver
}

// queue is the state shared by Sender and Receiver.
type queue struct {
	api          API
	name         string
	url          string
	logger       *slog.Logger
	deferTimeout time.Duration

	dlqName string
	dlqOnce sync.Once
	dlqURL  string
	dlqErr  error
}

// Open builds an SQS client from connectionString and resolves queue's URL.
func Open(ctx context.Context, connectionString, queueName string, opts *Options) (*Transport, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	loadOpts := make([]func(*config.LoadOptions) error, 0, 2)
	if cs.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cs.Region))
	}
	if cs.hasStaticCredentials() {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cs.AccessKeyID, cs.SecretAccessKey, cs.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if cs.Endpoint != "" {
			o.BaseEndpoint = aws.String(cs.Endpoint)
		}
	})

	url, err := resolveQueueURL(ctx, client, queueName)
	if err != nil {
		return nil, err
	}

	return New(client, queueName, url, opts), nil
}

// New creates a transport over api for a queue whose URL is already known.
func New(api API, queueName, queueURL string, opts *Options) *Transport {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	deferTimeout := opts.DeferTimeout
	if deferTimeout <= 0 || deferTimeout > DefaultDeferTimeout {
		deferTimeout = DefaultDeferTimeout
	}
	dlq := opts.DeadLetterQueue
	if dlq == "" {
		dlq = queueName + DeadLetterSuffix
	}

	q := &queue{
		api:          api,
		name:         queueName,
		url:          queueURL,
		logger:       log,
		deferTimeout: deferTimeout,
		dlqName:      dlq,
	}
	return &Transport{
		queue:    q,
		sender:   &Sender{queue: q},
		receiver: &Receiver{queue: q},
	}
}

// Sender returns the queue sender.
func (t *Transport) Sender() transport.Sender { return t.sender }

// Receiver returns the queue receiver.
func (t *Transport) Receiver() transport.Receiver { return t.receiver }

// Close is a no-op: SQS clients hold no connection state.
func (t *Transport) Close(_ context.Context) error {
	t.queue.logger.Debug("sqs transport closed")
	return nil
}

func resolveQueueURL(ctx context.Context, api API, name string) (string, error) {
	out, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("get queue url for %s: %w", name, err)
	}
	if out.QueueUrl == nil {
		return "", fmt.Errorf("queue URL is nil for queue %s", name)
	}
	return *out.QueueUrl, nil
}

func (q *queue) deadLetterURL(ctx context.Context) (string, error) {
	q.dlqOnce.Do(func() {
		q.dlqURL, q.dlqErr = resolveQueueURL(ctx, q.api, q.dlqName)
	})
	return q.dlqURL, q.dlqErr
}

// Sender implements transport.Sender.
type Sender struct {
	queue *queue
}

// SendMessage implements transport.Sender.
func (s *Sender) SendMessage(ctx context.Context, m *transport.Message) error {
	_, err := s.queue.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queue.url),
		MessageBody:       aws.String(string(m.Body)),
		MessageAttributes: messageAttributes(m),
	})
	return err
}

// SendMessages sends messages in chunks of MaxBatchMessages, one chunk
// after the other. Size limits are enforced by SQS.
func (s *Sender) SendMessages(ctx context.Context, messages []*transport.Message) error {
	for start := 0; start < len(messages); start += MaxBatchMessages {
		end := min(start+MaxBatchMessages, len(messages))
		if err := s.sendEntries(ctx, messages[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// NewMessageBatch implements transport.Sender.
func (s *Sender) NewMessageBatch(_ context.Context) (transport.MessageBatch, error) {
	return transport.NewSizedBatchFunc(MaxBatchMessages, MaxBatchBytes, EncodedSize)
}

// SendMessageBatch implements transport.Sender.
func (s *Sender) SendMessageBatch(ctx context.Context, batch transport.MessageBatch) error {
	sized, ok := batch.(*transport.SizedBatch)
	if !ok {
		return fmt.Errorf("unsupported batch type %T", batch)
	}
	return s.sendEntries(ctx, sized.Messages())
}

// Close implements transport.Sender.
func (s *Sender) Close(_ context.Context) error { return nil }

func (s *Sender) sendEntries(ctx context.Context, messages []*transport.Message) error {
	if len(messages) == 0 {
		return nil
	}

	entries := make([]types.SendMessageBatchRequestEntry, 0, len(messages))
	for i, m := range messages {
		id := m.MessageID
		if id == "" {
			id = strconv.Itoa(i)
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:                aws.String(id),
			MessageBody:       aws.String(string(m.Body)),
			MessageAttributes: messageAttributes(m),
		})
	}

	out, err := s.queue.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(s.queue.url),
		Entries:  entries,
	})
	if err != nil {
		return err
	}
	if len(out.Failed) > 0 {
		return &BatchEntryError{Failed: out.Failed}
	}
	return nil
}

// Receiver implements transport.Receiver.
type Receiver struct {
	queue *queue
}

// ReceiveMessages long-polls until messages arrive or ctx is done. Each
// poll waits at most 20 seconds, bounded by the ctx deadline.
func (r *Receiver) ReceiveMessages(ctx context.Context, maxMessages int) ([]*transport.ReceivedMessage, error) {
	maxMessages = max(1, min(maxMessages, MaxBatchMessages))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := waitTimeSeconds(ctx)
		out, err := r.queue.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(r.queue.url),
			MaxNumberOfMessages:         int32(maxMessages),
			WaitTimeSeconds:             wait,
			MessageAttributeNames:       []string{"All"},
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameAll},
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(out.Messages) == 0 {
			if wait == 0 {
				// short poll near the deadline
				select {
				case <-ctx.Done():
				case <-time.After(shortPollInterval):
				}
			}
			continue
		}

		received := make([]*transport.ReceivedMessage, 0, len(out.Messages))
		for i := range out.Messages {
			received = append(received, fromSQSMessage(out.Messages[i]))
		}
		return received, nil
	}
}

// CompleteMessage deletes the message.
func (r *Receiver) CompleteMessage(ctx context.Context, m *transport.ReceivedMessage) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}
	_, err = r.queue.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queue.url),
		ReceiptHandle: native.ReceiptHandle,
	})
	return err
}

// AbandonMessage makes the message visible again immediately.
func (r *Receiver) AbandonMessage(ctx context.Context, m *transport.ReceivedMessage) error {
	return r.changeVisibility(ctx, m, 0)
}

// DeferMessage hides the message for the configured defer timeout.
func (r *Receiver) DeferMessage(ctx context.Context, m *transport.ReceivedMessage) error {
	return r.changeVisibility(ctx, m, r.queue.deferTimeout)
}

// DeadLetterMessage copies the message to the dead-letter queue with reason
// and description attributes, then deletes the original.
func (r *Receiver) DeadLetterMessage(ctx context.Context, m *transport.ReceivedMessage, reason, description string) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}

	dlqURL, err := r.queue.deadLetterURL(ctx)
	if err != nil {
		return err
	}

	attrs := make(map[string]types.MessageAttributeValue, len(native.MessageAttributes)+2)
	for k, v := range native.MessageAttributes {
		attrs[k] = v
	}
	attrs[attrDeadLetterReason] = stringAttribute(reason)
	attrs[attrDeadLetterDescription] = stringAttribute(description)

	if _, err := r.queue.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(dlqURL),
		MessageBody:       native.Body,
		MessageAttributes: attrs,
	}); err != nil {
		return fmt.Errorf("send to dead-letter queue %s: %w", r.queue.dlqName, err)
	}

	return r.CompleteMessage(ctx, m)
}

// Close implements transport.Receiver.
func (r *Receiver) Close(_ context.Context) error { return nil }

func (r *Receiver) changeVisibility(ctx context.Context, m *transport.ReceivedMessage, d time.Duration) error {
	native, err := nativeMessage(m)
	if err != nil {
		return err
	}
	_, err = r.queue.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(r.queue.url),
		ReceiptHandle:     native.ReceiptHandle,
		VisibilityTimeout: int32(d / time.Second),
	})
	return err
}

// waitTimeSeconds caps one long poll by the remaining ctx time.
func waitTimeSeconds(ctx context.Context) int32 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return maxWaitTimeSeconds
	}
	remaining := int32(time.Until(deadline) / time.Second)
	return max(0, min(remaining, maxWaitTimeSeconds))
}

func nativeMessage(m *transport.ReceivedMessage) (*types.Message, error) {
	if m == nil {
		return nil, errForeignMessage
	}
	native, ok := m.Native.(*types.Message)
	if !ok || native == nil || native.ReceiptHandle == nil {
		return nil, errForeignMessage
	}
	return native, nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// EncodedSize is the size SQS counts against its payload limits: the body
// plus, per message attribute, its name, data type and value.
func EncodedSize(m *transport.Message) int {
	size := len(m.Body)
	for name, v := range messageAttributes(m) {
		size += len(name) + len(aws.ToString(v.DataType)) + len(aws.ToString(v.StringValue)) + len(v.BinaryValue)
	}
	return size
}

func messageAttributes(m *transport.Message) map[string]types.MessageAttributeValue {
	if m.ContentType == "" && len(m.Properties) == 0 {
		return nil
	}
	attrs := make(map[string]types.MessageAttributeValue, len(m.Properties)+1)
	for k, v := range m.Properties {
		attrs[k] = stringAttribute(v)
	}
	if m.ContentType != "" {
		attrs["ContentType"] = stringAttribute(m.ContentType)
	}
	return attrs
}

func fromSQSMessage(msg types.Message) *transport.ReceivedMessage {
	rm := &transport.ReceivedMessage{
		MessageID: aws.ToString(msg.MessageId),
		Body:      []byte(aws.ToString(msg.Body)),
		Native:    &msg,
	}
	if v, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			rm.DeliveryCount = uint32(n)
		}
	}
	if v, ok := msg.Attributes[string(types.MessageSystemAttributeNameSequenceNumber)]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			rm.SequenceNumber = n
		}
	}
	if len(msg.MessageAttributes) > 0 {
		rm.Properties = make(map[string]string, len(msg.MessageAttributes))
		for k, v := range msg.MessageAttributes {
			if v.StringValue != nil {
				rm.Properties[k] = *v.StringValue
			}
		}
	}
	return rm
}

// Ensure the adapter implements the transport interfaces.
var (
	_ transport.Sender   = (*Sender)(nil)
	_ transport.Receiver = (*Receiver)(nil)

	_ API = (*sqs.Client)(nil)
)

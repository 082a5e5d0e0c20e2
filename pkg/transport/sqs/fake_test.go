package sqs_test

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeAPI records calls and serves canned receive results.
type fakeAPI struct {
	mu sync.Mutex

	queueURLs map[string]string
	pending   []types.Message
	failed    []types.BatchResultErrorEntry
	sendErr   error

	sent        []*sqs.SendMessageInput
	batches     []*sqs.SendMessageBatchInput
	receives    []*sqs.ReceiveMessageInput
	deleted     []*sqs.DeleteMessageInput
	visibility  []*sqs.ChangeMessageVisibilityInput
	urlRequests []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		queueURLs: map[string]string{
			"orders":            "https://sqs.local/000000000000/orders",
			"orders-deadletter": "https://sqs.local/000000000000/orders-deadletter",
		},
	}
}

func (f *fakeAPI) GetQueueUrl(_ context.Context, params *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.QueueName)
	f.urlRequests = append(f.urlRequests, name)
	url, ok := f.queueURLs[name]
	if !ok {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url)}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-id")}, nil
}

func (f *fakeAPI) SendMessageBatch(_ context.Context, params *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageBatchOutput{Failed: f.failed}, nil
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives = append(f.receives, params)
	if len(f.pending) > 0 {
		defer f.mu.Unlock()
		n := min(int(params.MaxNumberOfMessages), len(f.pending))
		out := f.pending[:n]
		f.pending = f.pending[n:]
		return &sqs.ReceiveMessageOutput{Messages: out}, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeAPI) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, params)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) ChangeMessageVisibility(_ context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, params)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

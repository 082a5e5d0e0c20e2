package servicebus_test

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/busdealer/pkg/logger"
	"procodus.dev/busdealer/pkg/transport"
	"procodus.dev/busdealer/pkg/transport/servicebus"
)

func received(id string, seq int64, body string) *azservicebus.ReceivedMessage {
	return &azservicebus.ReceivedMessage{
		MessageID:      id,
		SequenceNumber: to.Ptr(seq),
		DeliveryCount:  2,
		Body:           []byte(body),
		ApplicationProperties: map[string]any{
			"tenant": "acme",
		},
	}
}

var _ = Describe("Service Bus transport", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Open", func() {
		It("should reject a malformed connection string", func() {
			t, err := servicebus.Open("not a connection string", "orders", &servicebus.Options{Logger: logger.Discard()})
			Expect(err).To(HaveOccurred())
			Expect(t).To(BeNil())
		})
	})

	Describe("Sender", func() {
		var (
			sdk    *fakeSender
			sender *servicebus.Sender
		)

		BeforeEach(func() {
			sdk = &fakeSender{}
			sender = servicebus.NewSender(sdk)
		})

		It("should map message fields onto the SDK message", func() {
			err := sender.SendMessage(ctx, &transport.Message{
				MessageID:   "id-1",
				ContentType: "application/json",
				Body:        []byte(`"Message 1"`),
				Properties:  map[string]string{"tenant": "acme"},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sdk.sent).To(HaveLen(1))
			Expect(sdk.sent[0].Body).To(Equal([]byte(`"Message 1"`)))
			Expect(*sdk.sent[0].MessageID).To(Equal("id-1"))
			Expect(*sdk.sent[0].ContentType).To(Equal("application/json"))
			Expect(sdk.sent[0].ApplicationProperties).To(HaveKeyWithValue("tenant", "acme"))
		})

		It("should leave optional fields unset", func() {
			Expect(sender.SendMessage(ctx, &transport.Message{Body: []byte("x")})).To(Succeed())
			Expect(sdk.sent[0].MessageID).To(BeNil())
			Expect(sdk.sent[0].ContentType).To(BeNil())
			Expect(sdk.sent[0].ApplicationProperties).To(BeNil())
		})

		It("should return the SDK send error", func() {
			sdk.sendErr = errors.New("entity not found")
			Expect(sender.SendMessage(ctx, &transport.Message{Body: []byte("x")})).To(MatchError("entity not found"))
		})

		It("should return batch creation errors", func() {
			sdk.batchErr = errors.New("link closed")

			_, err := sender.NewMessageBatch(ctx)
			Expect(err).To(MatchError("link closed"))

			err = sender.SendMessages(ctx, []*transport.Message{{Body: []byte("x")}})
			Expect(err).To(MatchError("link closed"))
		})

		It("should refuse batches it did not create", func() {
			batch, err := transport.NewSizedBatch(1, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(sender.SendMessageBatch(ctx, batch)).To(MatchError(ContainSubstring("unsupported batch type")))
		})

		It("should close the SDK sender", func() {
			Expect(sender.Close(ctx)).To(Succeed())
			Expect(sdk.closed).To(Equal(1))
		})
	})

	Describe("Receiver", func() {
		var (
			sdk      *fakeReceiver
			receiver *servicebus.Receiver
		)

		BeforeEach(func() {
			sdk = &fakeReceiver{
				pending: []*azservicebus.ReceivedMessage{
					received("a", 11, "Message 1"),
					received("b", 12, "Message 2"),
				},
				deferred: map[int64]*azservicebus.ReceivedMessage{
					42: received("c", 42, "Deferred"),
				},
			}
			receiver = servicebus.NewReceiver(sdk)
		})

		It("should convert received messages", func() {
			first := sdk.pending[0]
			msgs, err := receiver.ReceiveMessages(ctx, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))

			Expect(msgs[0].MessageID).To(Equal("a"))
			Expect(msgs[0].SequenceNumber).To(Equal(int64(11)))
			Expect(msgs[0].DeliveryCount).To(Equal(uint32(2)))
			Expect(string(msgs[0].Body)).To(Equal("Message 1"))
			Expect(msgs[0].Properties).To(HaveKeyWithValue("tenant", "acme"))
			Expect(msgs[0].Native).To(BeIdenticalTo(first))
		})

		It("should report the context error when nothing arrives", func() {
			sdk.pending = nil
			waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			msgs, err := receiver.ReceiveMessages(waitCtx, 5)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(msgs).To(BeNil())
		})

		It("should return SDK receive errors", func() {
			sdk.receiveErr = errors.New("unauthorized")
			_, err := receiver.ReceiveMessages(ctx, 1)
			Expect(err).To(MatchError("unauthorized"))
		})

		It("should settle through the native handle", func() {
			msgs, err := receiver.ReceiveMessages(ctx, 2)
			Expect(err).NotTo(HaveOccurred())

			Expect(receiver.CompleteMessage(ctx, msgs[0])).To(Succeed())
			Expect(receiver.AbandonMessage(ctx, msgs[1])).To(Succeed())

			Expect(sdk.completed).To(HaveLen(1))
			Expect(sdk.completed[0].MessageID).To(Equal("a"))
			Expect(sdk.abandoned).To(HaveLen(1))
			Expect(sdk.abandoned[0].MessageID).To(Equal("b"))
		})

		It("should defer and fetch by sequence number", func() {
			msgs, err := receiver.ReceiveMessages(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(receiver.DeferMessage(ctx, msgs[0])).To(Succeed())
			Expect(sdk.deferredCall).To(HaveLen(1))

			deferred, err := receiver.ReceiveDeferred(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(deferred).To(HaveLen(1))
			Expect(string(deferred[0].Body)).To(Equal("Deferred"))
			Expect(deferred[0].SequenceNumber).To(Equal(int64(42)))
		})

		It("should pass reason and description when dead-lettering", func() {
			msgs, err := receiver.ReceiveMessages(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(receiver.DeadLetterMessage(ctx, msgs[0], "invalid", "schema mismatch")).To(Succeed())
			Expect(sdk.deadLettered).To(HaveLen(1))
			Expect(*sdk.deadLettered[0].options.Reason).To(Equal("invalid"))
			Expect(*sdk.deadLettered[0].options.ErrorDescription).To(Equal("schema mismatch"))
		})

		It("should refuse messages received elsewhere", func() {
			foreign := &transport.ReceivedMessage{MessageID: "x"}
			Expect(receiver.CompleteMessage(ctx, foreign)).To(HaveOccurred())
			Expect(receiver.DeadLetterMessage(ctx, nil, "r", "d")).To(HaveOccurred())
			Expect(sdk.completed).To(BeEmpty())
		})
	})
})

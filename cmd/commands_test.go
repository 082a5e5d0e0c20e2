package main

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/viper"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/busdealer/internal/publisher"
	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/logger"
	"procodus.dev/busdealer/pkg/transport/mock"
)

var _ = Describe("Commands", func() {
	Describe("DealerConfig", func() {
		AfterEach(func() {
			viper.Reset()
		})

		It("should build a validated config from viper keys", func() {
			viper.Set("dealer.backend", "aws")
			viper.Set("dealer.connection_string", "Region=eu-west-1")
			viper.Set("dealer.queue_name", "orders")
			viper.Set("dealer.receive_wait", 2*time.Second)

			cfg, err := DealerConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Backend).To(Equal(dealer.BackendSQS))
			Expect(cfg.QueueName).To(Equal("orders"))
			Expect(cfg.ReceiveWait).To(Equal(2 * time.Second))
		})

		It("should reject an unknown backend", func() {
			viper.Set("dealer.backend", "kafka")
			_, err := DealerConfig()
			Expect(err).To(MatchError(dealer.ErrUnknownBackend))
		})

		It("should require a queue name", func() {
			viper.Set("dealer.connection_string", "amqp://localhost")
			_, err := DealerConfig()
			Expect(err).To(MatchError(dealer.ErrQueueNameRequired))
		})
	})

	Describe("sendPayloads", func() {
		var (
			ctx      context.Context
			sender   *mock.MockSender
			client   *dealer.Client[json.RawMessage]
			payloads []json.RawMessage
		)

		BeforeEach(func() {
			ctx = context.Background()
			sender = mock.NewMockSender()
			var err error
			client, err = dealer.New[json.RawMessage](sender, nil, dealer.WithLogger(logger.Discard()))
			Expect(err).NotTo(HaveOccurred())
			payloads = []json.RawMessage{json.RawMessage(`{"n":1}`), json.RawMessage(`{"n":2}`)}
		})

		It("should send one call per payload in single mode", func() {
			Expect(sendPayloads(ctx, client, publisher.ModeSingle, payloads)).To(Succeed())
			Expect(sender.SendMessageCalls).To(HaveLen(2))
			Expect(sender.SentBodies()).To(Equal([]string{`{"n":1}`, `{"n":2}`}))
		})

		It("should send one array message in list mode", func() {
			Expect(sendPayloads(ctx, client, publisher.ModeList, payloads)).To(Succeed())
			Expect(sender.SentBodies()).To(Equal([]string{`[{"n":1},{"n":2}]`}))
		})

		It("should send all payloads in one call in many mode", func() {
			Expect(sendPayloads(ctx, client, publisher.ModeMany, payloads)).To(Succeed())
			Expect(sender.SendMessagesCalls).To(HaveLen(1))
			Expect(sender.SentBodies()).To(HaveLen(2))
		})

		It("should send batches in batch mode", func() {
			Expect(sendPayloads(ctx, client, publisher.ModeBatch, payloads)).To(Succeed())
			Expect(sender.SentBodies()).To(Equal([]string{`{"n":1}`, `{"n":2}`}))
		})
	})

	Describe("root help", func() {
		It("should describe every subcommand", func() {
			for _, sub := range rootCmd.Commands() {
				if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
					continue
				}
				Expect(rootCmd.Long).To(ContainSubstring("- "+sub.Name()+":"), sub.Name())
			}
		})
	})

	Describe("handleOne", func() {
		var (
			ctx      context.Context
			receiver *mock.MockReceiver
			client   *dealer.Client[json.RawMessage]
		)

		BeforeEach(func() {
			ctx = context.Background()
			receiver = mock.NewMockReceiver(mock.NewReceivedMessages(`{"n":1}`)...)
			deferred := mock.NewReceivedMessages(`{"n":2}`)[0]
			deferred.SequenceNumber = 9
			receiver.Deferred[9] = deferred

			var err error
			client, err = dealer.New[json.RawMessage](mock.NewMockSender(), receiver, dealer.WithLogger(logger.Discard()))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should settle the next message without a sequence number", func() {
			s, err := handleOne(ctx, client, 0, dealer.Complete{})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Body).To(Equal(`{"n":1}`))
			Expect(receiver.ReceiveDeferredCalls).To(BeEmpty())
		})

		It("should settle the deferred message with the sequence number", func() {
			s, err := handleOne(ctx, client, 9, dealer.Complete{})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Body).To(Equal(`{"n":2}`))
			Expect(s.SequenceNumber).To(Equal(int64(9)))
			Expect(receiver.ReceiveCalls).To(BeEmpty())
		})
	})

	Describe("printSettlement", func() {
		It("should print a notice when nothing was settled", func() {
			var buf bytes.Buffer
			Expect(printSettlement(&buf, nil)).To(Succeed())
			Expect(buf.String()).To(Equal("no message settled\n"))
		})

		It("should print the settlement as JSON", func() {
			var buf bytes.Buffer
			Expect(printSettlement(&buf, &dealer.Settlement{
				MessageID:      "msg-1",
				SequenceNumber: 7,
				DeliveryCount:  2,
				Body:           `{"n":1}`,
				Action:         dealer.ActionDeadLetter,
			})).To(Succeed())

			var out settlementOutput
			Expect(json.Unmarshal(buf.Bytes(), &out)).To(Succeed())
			Expect(out.MessageID).To(Equal("msg-1"))
			Expect(out.SequenceNumber).To(BeEquivalentTo(7))
			Expect(out.Action).To(Equal("deadletter"))
			Expect(out.Body).To(Equal(`{"n":1}`))
		})
	})
})

package consumer_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/busdealer/internal/consumer"
	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/logger"
	"procodus.dev/busdealer/pkg/transport"
	"procodus.dev/busdealer/pkg/transport/mock"
)

var _ = Describe("Consumer", func() {
	var (
		ctx      context.Context
		receiver *mock.MockReceiver
		client   *dealer.Client[string]
	)

	newClient := func(r *mock.MockReceiver) *dealer.Client[string] {
		c, err := dealer.New[string](mock.NewMockSender(), r,
			dealer.WithLogger(logger.Discard()),
			dealer.WithHandleWait(20*time.Millisecond),
		)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		receiver = mock.NewMockReceiver(mock.NewReceivedMessages("one", "two", "three")...)
		client = newClient(receiver)
	})

	Describe("NewConsumer", func() {
		It("should reject a nil config", func() {
			_, err := consumer.NewConsumer(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should require logger, client and disposition", func() {
			_, err := consumer.NewConsumer(&consumer.Config{Client: client, Disposition: dealer.Complete{}})
			Expect(err).To(HaveOccurred())

			_, err = consumer.NewConsumer(&consumer.Config{Logger: logger.Discard(), Disposition: dealer.Complete{}})
			Expect(err).To(HaveOccurred())

			_, err = consumer.NewConsumer(&consumer.Config{Logger: logger.Discard(), Client: client})
			Expect(err).To(HaveOccurred())
		})

		It("should reject an unannotated dead-letter", func() {
			_, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.DeadLetter{Reason: "only reason"},
			})
			Expect(err).To(HaveOccurred())
		})

		It("should reject a negative limit", func() {
			_, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.Complete{},
				Limit:       -1,
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		It("should settle messages until the limit is reached", func() {
			var (
				mu     sync.Mutex
				bodies []string
			)
			c, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.Complete{},
				Limit:       2,
				OnSettled: func(s *dealer.Settlement) {
					mu.Lock()
					defer mu.Unlock()
					bodies = append(bodies, s.Body)
				},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Run(ctx)).To(Equal(2))
			Expect(receiver.CompleteCalls).To(HaveLen(2))
			Expect(bodies).To(Equal([]string{"one", "two"}))
			Expect(receiver.Pending).To(HaveLen(1))
		})

		It("should keep waiting on an empty queue until canceled", func() {
			c, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.Abandon{},
			})
			Expect(err).NotTo(HaveOccurred())

			runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()

			Expect(c.Run(runCtx)).To(Equal(3))
			Expect(receiver.AbandonCalls).To(HaveLen(3))
			Expect(c.Failed()).To(Equal(0))
		})

		It("should dead-letter with the configured annotations", func() {
			c, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.DeadLetter{Reason: "drain", Description: "queue drained"},
				Limit:       3,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Run(ctx)).To(Equal(3))
			Expect(receiver.DeadLetterCalls).To(HaveLen(3))
			Expect(receiver.DeadLetterCalls[0].Reason).To(Equal("drain"))
			Expect(receiver.DeadLetterCalls[0].Description).To(Equal("queue drained"))
		})

		It("should count failures and continue after the error delay", func() {
			var calls int
			var mu sync.Mutex
			receiver.ReceiveMessagesFunc = func(_ context.Context, _ int) ([]*transport.ReceivedMessage, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls == 1 {
					return nil, errors.New("link detached")
				}
				return mock.NewReceivedMessages("after-failure"), nil
			}

			c, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.Complete{},
				Limit:       1,
				ErrorDelay:  10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Run(ctx)).To(Equal(1))
			Expect(c.Failed()).To(Equal(1))
		})
	})

	Describe("Start and Stop", func() {
		It("should stop a running consumer", func() {
			c, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      newClient(mock.NewMockReceiver()),
				Disposition: dealer.Complete{},
			})
			Expect(err).NotTo(HaveOccurred())

			c.Start(ctx)
			Consistently(c.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

			c.Stop()
			Expect(c.Done()).To(BeClosed())
			Expect(c.Settled()).To(Equal(0))
		})

		It("should allow Stop without Start", func() {
			c, err := consumer.NewConsumer(&consumer.Config{
				Logger:      logger.Discard(),
				Client:      client,
				Disposition: dealer.Complete{},
			})
			Expect(err).NotTo(HaveOccurred())

			c.Stop()
			Expect(c.Done()).To(BeClosed())
		})
	})
})

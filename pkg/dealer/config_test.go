package dealer_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/busdealer/pkg/dealer"
)

var _ = Describe("Config", func() {
	DescribeTable("ParseBackend",
		func(input string, expected dealer.Backend) {
			backend, err := dealer.ParseBackend(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(backend).To(Equal(expected))
		},
		Entry("empty defaults to servicebus", "", dealer.BackendServiceBus),
		Entry("servicebus", "servicebus", dealer.BackendServiceBus),
		Entry("azure alias", "Azure", dealer.BackendServiceBus),
		Entry("sqs", "sqs", dealer.BackendSQS),
		Entry("aws alias", "AWS", dealer.BackendSQS),
		Entry("rabbitmq", "rabbitmq", dealer.BackendRabbitMQ),
		Entry("amqp alias", "amqp", dealer.BackendRabbitMQ),
	)

	It("should reject unknown backends", func() {
		_, err := dealer.ParseBackend("kafka")
		Expect(err).To(MatchError(dealer.ErrUnknownBackend))
	})

	It("should expose the default waits", func() {
		Expect(dealer.DefaultReceiveWait).To(Equal(15 * time.Second))
		Expect(dealer.DefaultHandleWait).To(Equal(10 * time.Second))
	})

	Describe("Validate", func() {
		var cfg dealer.Config

		BeforeEach(func() {
			cfg = dealer.Config{
				ConnectionString: "Endpoint=sb://example.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=s",
				QueueName:        "orders",
			}
		})

		It("should accept a complete config", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should require a connection string", func() {
			cfg.ConnectionString = "  "
			Expect(cfg.Validate()).To(MatchError(dealer.ErrConnectionStringRequired))
		})

		It("should require a queue name", func() {
			cfg.QueueName = ""
			Expect(cfg.Validate()).To(MatchError(dealer.ErrQueueNameRequired))
		})

		It("should reject an unknown backend", func() {
			cfg.Backend = "kafka"
			Expect(cfg.Validate()).To(MatchError(dealer.ErrUnknownBackend))
		})
	})

	Describe("Dial", func() {
		It("should fail validation before opening a transport", func() {
			client, err := dealer.Dial[string](context.Background(), dealer.Config{QueueName: "orders"})
			Expect(err).To(MatchError(dealer.ErrConnectionStringRequired))
			Expect(client).To(BeNil())
		})

		It("should wrap a malformed connection string as a transport error", func() {
			client, err := dealer.Dial[string](context.Background(), dealer.Config{
				Backend:          dealer.BackendServiceBus,
				ConnectionString: "not a connection string",
				QueueName:        "orders",
			}, dealer.WithLogger(discardLogger()))
			Expect(err).To(MatchError(dealer.ErrTransport))
			Expect(client).To(BeNil())
		})
	})
})

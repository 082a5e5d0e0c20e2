package publisher_test

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/busdealer/internal/publisher"
	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/generator"
	"procodus.dev/busdealer/pkg/logger"
	"procodus.dev/busdealer/pkg/metrics"
	"procodus.dev/busdealer/pkg/transport/mock"
)

func newMockClient(sender *mock.MockSender) *dealer.Client[generator.Command] {
	client, err := dealer.New[generator.Command](sender, mock.NewMockReceiver(), dealer.WithLogger(logger.Discard()))
	Expect(err).NotTo(HaveOccurred())
	return client
}

var _ = Describe("Producer", func() {
	var (
		ctx    context.Context
		sender *mock.MockSender
		client *dealer.Client[generator.Command]
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = mock.NewMockSender()
		client = newMockClient(sender)
	})

	DescribeTable("ParseMode",
		func(input string, expected publisher.Mode) {
			mode, err := publisher.ParseMode(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(expected))
		},
		Entry("empty", "", publisher.ModeSingle),
		Entry("single", "single", publisher.ModeSingle),
		Entry("list", "LIST", publisher.ModeList),
		Entry("many", "many", publisher.ModeMany),
		Entry("batch", " batch ", publisher.ModeBatch),
	)

	It("should reject unknown modes", func() {
		_, err := publisher.ParseMode("stream")
		Expect(err).To(HaveOccurred())
	})

	It("should send one command in single mode", func() {
		p := publisher.NewProducer(0, client, publisher.ModeSingle, 10)

		sent, err := p.Publish(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sent).To(Equal(1))
		Expect(sender.SendMessageCalls).To(HaveLen(1))

		var cmd generator.Command
		Expect(json.Unmarshal(sender.SendMessageCalls[0].Message.Body, &cmd)).To(Succeed())
		Expect(cmd.Emitter).To(Equal("producer-0"))
		Expect(cmd.Message).To(HavePrefix("Message 1: "))
	})

	It("should send one array message in list mode", func() {
		p := publisher.NewProducer(1, client, publisher.ModeList, 4)

		sent, err := p.Publish(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sent).To(Equal(4))
		Expect(sender.SendMessageCalls).To(HaveLen(1))

		var cmds []generator.Command
		Expect(json.Unmarshal(sender.SendMessageCalls[0].Message.Body, &cmds)).To(Succeed())
		Expect(cmds).To(HaveLen(4))
	})

	It("should hand all commands over at once in many mode", func() {
		p := publisher.NewProducer(2, client, publisher.ModeMany, 5)

		_, err := p.Publish(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sender.SendMessagesCalls).To(HaveLen(1))
		Expect(sender.SendMessagesCalls[0].Messages).To(HaveLen(5))
	})

	It("should pack commands in batch mode", func() {
		sender.BatchMaxMessages = 2
		p := publisher.NewProducer(3, client, publisher.ModeBatch, 5)

		_, err := p.Publish(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sender.SentBatches).To(HaveLen(3))
	})

	It("should continue the sequence across rounds", func() {
		p := publisher.NewProducer(0, client, publisher.ModeSingle, 1)

		for range 3 {
			_, err := p.Publish(ctx)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(p.Generator.Sequence()).To(Equal(3))
	})

	It("should count rounds and failures", func() {
		m := metrics.NewPublisherMetrics("test", prometheus.NewRegistry())
		p := publisher.NewProducer(0, client, publisher.ModeList, 3)
		p.SetMetrics(m)

		_, err := p.Publish(ctx)
		Expect(err).NotTo(HaveOccurred())

		sender.SendMessageError = errors.New("link detached")
		_, err = p.Publish(ctx)
		Expect(err).To(MatchError(dealer.ErrTransport))

		Expect(testutil.ToFloat64(m.PayloadsGenerated)).To(Equal(6.0))
		Expect(testutil.ToFloat64(m.PublishesCompleted.WithLabelValues("list"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.PublishFailures.WithLabelValues("list"))).To(Equal(1.0))
	})
})

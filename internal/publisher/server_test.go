package publisher_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/busdealer/internal/publisher"
	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/generator"
	"procodus.dev/busdealer/pkg/metrics"
	"procodus.dev/busdealer/pkg/transport"
	"procodus.dev/busdealer/pkg/transport/mock"
)

var _ = Describe("Publisher Server", func() {
	var (
		ctx     context.Context
		logger  *slog.Logger
		mu      sync.Mutex
		senders []*mock.MockSender
		factory publisher.ClientFactory
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError, // Only show errors in tests
		}))
		senders = nil
		factory = func(_ context.Context, _ int) (dealer.ClientInterface[generator.Command], error) {
			mu.Lock()
			defer mu.Unlock()
			sender := mock.NewMockSender()
			senders = append(senders, sender)
			return newMockClient(sender), nil
		}
	})

	Describe("NewServer", func() {
		Context("with valid configuration", func() {
			It("should create one producer per client", func() {
				server, err := publisher.NewServer(ctx, &publisher.ServerConfig{
					Logger:        logger,
					ClientFactory: factory,
					ProducerCount: 3,
					Interval:      time.Second,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(server.Producers()).To(HaveLen(3))
				Expect(senders).To(HaveLen(3))
				Expect(server.Producers()[0].Mode).To(Equal(publisher.ModeSingle))
			})
		})

		Context("with invalid configuration", func() {
			DescribeTable("should reject the configuration",
				func(mutate func(*publisher.ServerConfig), substr string) {
					cfg := &publisher.ServerConfig{
						Logger:        logger,
						ClientFactory: factory,
						ProducerCount: 1,
						Interval:      time.Second,
					}
					mutate(cfg)

					server, err := publisher.NewServer(ctx, cfg)
					Expect(err).To(MatchError(ContainSubstring(substr)))
					Expect(server).To(BeNil())
				},
				Entry("zero producers", func(c *publisher.ServerConfig) { c.ProducerCount = 0 }, "producer count"),
				Entry("negative interval", func(c *publisher.ServerConfig) { c.Interval = -time.Second }, "interval"),
				Entry("nil logger", func(c *publisher.ServerConfig) { c.Logger = nil }, "logger"),
				Entry("nil factory", func(c *publisher.ServerConfig) { c.ClientFactory = nil }, "factory"),
				Entry("unknown mode", func(c *publisher.ServerConfig) { c.Mode = "stream" }, "mode"),
			)

			It("should close opened clients when a later one fails", func() {
				calls := 0
				failing := func(c context.Context, id int) (dealer.ClientInterface[generator.Command], error) {
					calls++
					if calls == 3 {
						return nil, errors.New("unauthorized")
					}
					return factory(c, id)
				}

				_, err := publisher.NewServer(ctx, &publisher.ServerConfig{
					Logger:        logger,
					ClientFactory: failing,
					ProducerCount: 3,
					Interval:      time.Second,
				})
				Expect(err).To(MatchError("unauthorized"))
				Expect(senders).To(HaveLen(2))
				for _, s := range senders {
					Expect(s.CloseCalls).To(Equal(1))
				}
			})
		})
	})

	Describe("Run", func() {
		It("should publish on every tick until the context ends", func() {
			m := metrics.NewPublisherMetrics("test", prometheus.NewRegistry())
			server, err := publisher.NewServer(ctx, &publisher.ServerConfig{
				Logger:        logger,
				ClientFactory: factory,
				Mode:          publisher.ModeMany,
				BatchSize:     2,
				ProducerCount: 2,
				Interval:      10 * time.Millisecond,
				Metrics:       m,
			})
			Expect(err).NotTo(HaveOccurred())

			runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			defer cancel()

			Expect(server.Run(runCtx)).To(Succeed())

			for _, s := range senders {
				Expect(len(s.SentBodies())).To(BeNumerically(">=", 2))
				Expect(s.CloseCalls).To(Equal(1))
			}
			Expect(testutil.ToFloat64(m.PublishesCompleted.WithLabelValues("many"))).To(BeNumerically(">=", 2))
			Expect(testutil.ToFloat64(m.ActiveProducers)).To(Equal(0.0))
		})

		It("should keep publishing after a failed round", func() {
			server, err := publisher.NewServer(ctx, &publisher.ServerConfig{
				Logger:        logger,
				ClientFactory: factory,
				ProducerCount: 1,
				Interval:      10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			failures := 0
			senders[0].SendMessageFunc = func(context.Context, *transport.Message) error {
				failures++
				if failures == 1 {
					return errors.New("server busy")
				}
				return nil
			}

			runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
			defer cancel()
			Expect(server.Run(runCtx)).To(Succeed())

			Expect(failures).To(BeNumerically(">=", 2))
		})
	})

	Describe("Shutdown", func() {
		It("should close clients once", func() {
			server, err := publisher.NewServer(ctx, &publisher.ServerConfig{
				Logger:        logger,
				ClientFactory: factory,
				ProducerCount: 2,
				Interval:      time.Second,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Shutdown(ctx)).To(Succeed())
			Expect(server.Shutdown(ctx)).To(Succeed())
			for _, s := range senders {
				Expect(s.CloseCalls).To(Equal(1))
			}
		})
	})
})

package publisher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/generator"
	"procodus.dev/busdealer/pkg/metrics"
)

// ClientFactory opens the dealer client producer id publishes through.
type ClientFactory func(ctx context.Context, id int) (dealer.ClientInterface[generator.Command], error)

// ServerConfig holds the configuration for the publisher server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// ClientFactory opens one dealer client per producer
	ClientFactory ClientFactory
	// Mode is the send operation every producer uses
	Mode Mode
	// BatchSize is the number of commands per round for list, many and batch modes
	BatchSize int
	// Interval is the time between publish rounds
	Interval time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.PublisherMetrics
}

// Server manages multiple producer instances.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	producers []*Producer
	wg        sync.WaitGroup
	metrics   *metrics.PublisherMetrics
	closeOnce sync.Once
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
	errFactoryRequired      = errors.New("client factory is required")
)

// DialFactory returns a ClientFactory that dials cfg once per producer.
func DialFactory(cfg dealer.Config, opts ...dealer.Option) ClientFactory {
	return func(ctx context.Context, _ int) (dealer.ClientInterface[generator.Command], error) {
		client, err := dealer.Dial[generator.Command](ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// NewServer creates a publisher server and opens one client per producer.
// Clients already opened are closed when a later one fails.
func NewServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.ClientFactory == nil {
		return nil, errFactoryRequired
	}

	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		producers: make([]*Producer, 0, cfg.ProducerCount),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	for i := range cfg.ProducerCount {
		client, err := cfg.ClientFactory(ctx, i)
		if err != nil {
			s.logger.Error("failed to open dealer client", "producer_id", i, "error", err)
			s.closeClients(ctx)
			return nil, err
		}

		producer := NewProducer(i, client, mode, cfg.BatchSize)
		if cfg.Metrics != nil {
			producer.SetMetrics(cfg.Metrics)
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"mode", string(mode),
			"batch_size", producer.BatchSize,
		)
	}

	return s, nil
}

// Producers returns the producer instances.
func (s *Server) Producers() []*Producer {
	return s.producers
}

// Run starts all producers and blocks until a shutdown signal is received
// or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for _, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, producer)
	}

	s.logger.Info("publisher server started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()

	s.logger.Info("closing dealer clients...")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	s.closeClients(closeCtx)

	s.logger.Info("publisher server stopped")
	return nil
}

// runProducer publishes one round per interval until ctx is done.
func (s *Server) runProducer(ctx context.Context, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	producerLogger := s.logger.With(slog.Int("producer_id", producer.ID))
	producerLogger.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			producerLogger.Info("producer shutting down")
			return

		case <-ticker.C:
			sent, err := producer.Publish(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				producerLogger.Error("failed to publish", "error", err)
				// keep publishing on the next tick
				continue
			}

			producerLogger.Debug("commands published", "message_count", sent)
		}
	}
}

// closeClients closes all dealer clients concurrently, once.
func (s *Server) closeClients(ctx context.Context) {
	s.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for _, producer := range s.producers {
			wg.Add(1)
			go func(p *Producer) {
				defer wg.Done()

				if err := p.Client.Close(ctx); err != nil {
					s.logger.Error("failed to close dealer client",
						"producer_id", p.ID,
						"error", err,
					)
					return
				}

				s.logger.Info("dealer client closed", "producer_id", p.ID)
			}(producer)
		}
		wg.Wait()
	})
}

// Shutdown closes all clients without waiting for a signal.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutdown requested")
	s.closeClients(ctx)
	return nil
}

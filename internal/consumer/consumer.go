// Package consumer drains a queue by settling every received message with one disposition.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"procodus.dev/busdealer/pkg/dealer"
)

// DefaultErrorDelay is the pause after a failed receive or settlement.
const DefaultErrorDelay = time.Second

// Handler is the dealer operation the consumer drives.
type Handler interface {
	HandleMessage(ctx context.Context, d dealer.Disposition) (*dealer.Settlement, error)
}

// Config holds the configuration for the Consumer.
type Config struct {
	Logger *slog.Logger
	// Client receives and settles messages
	Client Handler
	// Disposition is applied to every received message
	Disposition dealer.Disposition
	// Limit stops the consumer after that many settlements. Zero means no limit.
	Limit int
	// ErrorDelay is the pause after a failure (default: DefaultErrorDelay)
	ErrorDelay time.Duration
	// OnSettled is called after each successful settlement
	OnSettled func(*dealer.Settlement)
}

// Consumer settles messages until its context is done or its limit is reached.
type Consumer struct {
	logger  *slog.Logger
	config  Config
	settled atomic.Int64
	failed  atomic.Int64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var (
	errConfigRequired      = errors.New("consumer config cannot be nil")
	errLoggerRequired      = errors.New("logger cannot be nil")
	errClientRequired      = errors.New("client cannot be nil")
	errDispositionRequired = errors.New("disposition cannot be nil")
	errInvalidLimit        = errors.New("limit cannot be negative")
	errUnannotated         = errors.New("dead-letter needs both reason and description")
)

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *Config) (*Consumer, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.Client == nil {
		return nil, errClientRequired
	}

	if cfg.Disposition == nil {
		return nil, errDispositionRequired
	}

	// an unannotated dead-letter would never receive anything and spin
	if dl, ok := cfg.Disposition.(dealer.DeadLetter); ok && (dl.Reason == "" || dl.Description == "") {
		return nil, errUnannotated
	}

	if cfg.Limit < 0 {
		return nil, errInvalidLimit
	}

	config := *cfg
	if config.ErrorDelay <= 0 {
		config.ErrorDelay = DefaultErrorDelay
	}

	return &Consumer{
		logger: cfg.Logger.With("component", "consumer", "action", cfg.Disposition.Action().String()),
		config: config,
		done:   make(chan struct{}),
	}, nil
}

// Start begins consuming in a goroutine. Later calls are no-ops.
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go func() {
			defer close(c.done)
			c.processMessages(ctx)
		}()
	})
}

// Run consumes on the calling goroutine until ctx is done or the limit is
// reached, and returns the number of settled messages.
func (c *Consumer) Run(ctx context.Context) int {
	c.Start(ctx)
	<-c.done
	return c.Settled()
}

// Stop cancels consumption and waits for the in-flight settlement to finish.
func (c *Consumer) Stop() {
	c.logger.Info("stopping consumer")
	c.startOnce.Do(func() { close(c.done) })
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	c.logger.Info("consumer stopped", "settled", c.Settled(), "failed", c.Failed())
}

// Settled returns the number of messages settled so far.
func (c *Consumer) Settled() int {
	return int(c.settled.Load())
}

// Failed returns the number of failed receive or settlement attempts.
func (c *Consumer) Failed() int {
	return int(c.failed.Load())
}

// Done is closed once consumption has stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) processMessages(ctx context.Context) {
	c.logger.Info("consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info("context canceled, stopping message processing")
			return
		}

		settlement, err := c.config.Client.HandleMessage(ctx, c.config.Disposition)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.failed.Add(1)
			c.logger.Error("failed to handle message", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.ErrorDelay):
			}
			continue
		}

		if settlement == nil {
			// wait elapsed without a message
			continue
		}

		n := c.settled.Add(1)
		c.logger.Debug("message settled",
			"message_id", settlement.MessageID,
			"delivery_count", settlement.DeliveryCount,
		)
		if c.config.OnSettled != nil {
			c.config.OnSettled(settlement)
		}

		if c.config.Limit > 0 && int(n) >= c.config.Limit {
			c.logger.Info("settlement limit reached", "limit", c.config.Limit)
			return
		}
	}
}

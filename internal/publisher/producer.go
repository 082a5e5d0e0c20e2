// Package publisher generates sample commands and publishes them through
// dealer clients at a fixed interval.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/generator"
	"procodus.dev/busdealer/pkg/metrics"
)

// Mode selects the dealer send operation a producer uses.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeList   Mode = "list"
	ModeMany   Mode = "many"
	ModeBatch  Mode = "batch"
)

var errUnknownMode = errors.New("unknown publish mode")

// ParseMode maps a mode name to a Mode. An empty name selects ModeSingle.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSingle, nil
	case ModeSingle, ModeList, ModeMany, ModeBatch:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownMode, s)
	}
}

// Producer publishes generated commands through one dealer client.
type Producer struct {
	ID        int
	Client    dealer.ClientInterface[generator.Command]
	Generator *generator.CommandGenerator
	Mode      Mode
	BatchSize int
	metrics   *metrics.PublisherMetrics
}

// NewProducer creates a producer emitting as "producer-<id>". A batch size
// below one is raised to one; ModeSingle always sends one command.
func NewProducer(id int, client dealer.ClientInterface[generator.Command], mode Mode, batchSize int) *Producer {
	return &Producer{
		ID:        id,
		Client:    client,
		Generator: generator.NewCommandGenerator(fmt.Sprintf("producer-%d", id)),
		Mode:      mode,
		BatchSize: max(batchSize, 1),
	}
}

// SetMetrics sets the metrics collector for this producer.
func (p *Producer) SetMetrics(m *metrics.PublisherMetrics) {
	p.metrics = m
}

// Publish generates one round of commands and sends them with the
// configured mode. It returns the number of commands sent.
func (p *Producer) Publish(ctx context.Context) (int, error) {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration.WithLabelValues(string(p.Mode)))
		defer timer.ObserveDuration()
	}

	n := p.BatchSize
	if p.Mode == ModeSingle {
		n = 1
	}
	cmds := p.Generator.NextN(time.Now(), n)
	if p.metrics != nil {
		p.metrics.PayloadsGenerated.Add(float64(len(cmds)))
	}

	var err error
	switch p.Mode {
	case ModeSingle:
		err = p.Client.SendMessage(ctx, cmds[0])
	case ModeList:
		err = p.Client.SendListAsMessage(ctx, cmds)
	case ModeMany:
		err = p.Client.SendMessages(ctx, cmds)
	case ModeBatch:
		err = p.Client.SendBatchOfMessages(ctx, cmds)
	default:
		err = fmt.Errorf("%w: %q", errUnknownMode, p.Mode)
	}

	if err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(string(p.Mode)).Inc()
		}
		return 0, err
	}

	if p.metrics != nil {
		p.metrics.PublishesCompleted.WithLabelValues(string(p.Mode)).Inc()
	}
	return len(cmds), nil
}

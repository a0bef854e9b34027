// README: Kafka producer/consumer for the provider position stream.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"diomy/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes samples keyed by provider id so one provider's fixes
// stay ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, s Sample) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("location: encode sample: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(s.ProviderID), Value: raw}); err != nil {
		return fmt.Errorf("location: publish sample: %w", err)
	}
	return nil
}

// Handler processes one consumed sample.
type Handler func(ctx context.Context, s Sample) error

type Consumer struct {
	r   messageReader
	log *slog.Logger
}

func NewConsumer(r *kafka.Reader, log *slog.Logger) *Consumer {
	return &Consumer{r: r, log: log}
}

// Run consumes until ctx is cancelled. Handler errors are logged and the
// message is still committed; a bad sample must not stall the partition.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("location: fetch: %w", err)
		}

		var s Sample
		if err := json.Unmarshal(msg.Value, &s); err != nil {
			c.log.Warn("drop malformed position sample", "offset", msg.Offset, "err", err)
		} else {
			observability.PositionsConsumed.Inc()
			if err := handle(ctx, s); err != nil {
				c.log.Error("handle position sample", "provider_id", s.ProviderID, "err", err)
			}
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("location: commit: %w", err)
		}
	}
}

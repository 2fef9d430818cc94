package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reminder-service/internal/config"
	"reminder-service/internal/domain/entity"
	"reminder-service/internal/domain/service"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads fire events from Kafka. Offsets are committed explicitly
// through Delivery.Ack, after the event has been handled.
type Consumer struct {
	reader messageReader
	log    *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(readerConfig(cfg))

	return &Consumer{
		reader: reader,
		log:    log,
	}
}

// readerConfig starts a group without committed offsets at the oldest message,
// so events published before the first sender joins are still delivered.
func readerConfig(cfg *config.KafkaConfig) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.FirstOffset,
	}
}

// Fetch blocks until the next decodable fire event is available.
// Undecodable messages are committed and skipped.
func (c *Consumer) Fetch(ctx context.Context) (*service.Delivery, error) {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message: %w", err)
		}

		event, err := entity.DecodeFireEvent(message.Value)
		if err != nil {
			c.log.Error("skipping malformed fire event",
				zap.Int("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Error(err),
			)
			if err := c.reader.CommitMessages(ctx, message); err != nil {
				return nil, fmt.Errorf("failed to commit malformed message: %w", err)
			}
			continue
		}

		msg := message
		return &service.Delivery{
			ID:    headerValue(message.Headers, eventIDHeader),
			Key:   string(message.Key),
			Event: event,
			Ack: func(ctx context.Context) error {
				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					return fmt.Errorf("failed to commit message: %w", err)
				}
				return nil
			},
		}, nil
	}
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

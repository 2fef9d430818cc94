package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reminder-service/internal/config"
	"reminder-service/internal/domain/entity"
)

const eventIDHeader = "event_id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes fire events to Kafka
type Producer struct {
	writer messageWriter
	log    *zap.Logger
}

// NewProducer creates a new Kafka producer.
// Messages are partitioned by key hash so one user's events stay ordered, and
// writes are synchronous so a failed publish is reported to the caller.
func NewProducer(cfg *config.KafkaConfig, log *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		log:    log,
	}
}

// Publish writes one fire event keyed by the owning user's id
func (p *Producer) Publish(ctx context.Context, key string, event *entity.FireEvent) error {
	message, eventID, err := newMessage(key, event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish fire event: %w", err)
	}

	p.log.Debug("published fire event",
		zap.String("event_id", eventID),
		zap.String("key", key),
		zap.Int64("reminder_id", event.ReminderID),
		zap.String("dedup_key", event.DedupKey),
	)
	return nil
}

func newMessage(key string, event *entity.FireEvent) (kafka.Message, string, error) {
	data, err := event.Encode()
	if err != nil {
		return kafka.Message{}, "", err
	}

	eventID := uuid.New().String()
	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: eventIDHeader, Value: []byte(eventID)},
		},
	}, eventID, nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces stage-completion events to a Kafka topic.
// It implements pipeline.Notifier.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the completion topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// StageCompleted publishes one completion event. Events for the same
// (model, stage, date) share a key and land on the same partition.
func (p *Publisher) StageCompleted(ctx context.Context, ev domain.CompletionEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Key(), p.topic, err)
	}
	p.logger.Debug("completion event published", "key", ev.Key(), "topic", p.topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a CompletionEvent into a Kafka message.
func serializeToMessage(ev domain.CompletionEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize completion event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "stage", Value: []byte(ev.Stage)},
			{Key: "completed_at", Value: []byte(ev.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}

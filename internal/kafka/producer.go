package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Topic names for the generation pipeline.
const (
	TopicSubmitted = "generation.submitted"
	TopicDLQ       = "generation.dlq"
)

// headerNotBefore carries the earliest time a message may be handed to a
// handler. Used for retry backoff: a re-enqueued job stays invisible until
// the delay elapses.
const headerNotBefore = "not-before"

// KindTopic returns the per-kind worker topic, e.g. "generation.image".
func KindTopic(kind string) string {
	switch kind {
	case "VIDEO":
		return "generation.video"
	default:
		return "generation.image"
	}
}

// Producer publishes messages to a Kafka topic.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	// PublishDelayed publishes with a not-before header so consumers hold
	// the message back until the delay elapses.
	PublishDelayed(ctx context.Context, topic, key string, value []byte, delay time.Duration) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer connected to the given brokers.
func NewProducer(brokers []string) Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // route by job id → deterministic partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create topics if they don't exist
		AllowAutoTopicCreation: true,
	}
	return &producer{writer: w}
}

func (p *producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.publish(ctx, topic, key, value, time.Time{})
}

func (p *producer) PublishDelayed(ctx context.Context, topic, key string, value []byte, delay time.Duration) error {
	return p.publish(ctx, topic, key, value, time.Now().UTC().Add(delay))
}

func (p *producer) publish(ctx context.Context, topic, key string, value []byte, notBefore time.Time) error {
	// Inject the active trace context into message headers so downstream
	// consumers can extract and continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)
	if !notBefore.IsZero() {
		headers.Set(headerNotBefore, notBefore.Format(time.RFC3339Nano))
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.writer.Close()
}

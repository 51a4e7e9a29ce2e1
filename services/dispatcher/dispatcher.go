// Package dispatcher routes admitted jobs from the submission topic to the
// per-kind worker topics, holding back bursts that would swamp the provider.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	"github.com/Davide9292/v-try.app-sub001/internal/kafka"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
	"github.com/Davide9292/v-try.app-sub001/pkg/telemetry"
)

// deferDelay is how long a surge-limited job waits before the dispatcher
// sees it again. Quota already admitted the job, so it is delayed, never
// dropped.
const deferDelay = 2 * time.Second

// Dispatcher consumes from generation.submitted and routes to per-kind
// worker topics.
type Dispatcher struct {
	consumer kafka.Consumer
	producer kafka.Producer
	limiter  redisstore.SurgeLimiter // nil = disabled
	logger   *slog.Logger
}

func New(
	consumer kafka.Consumer,
	producer kafka.Producer,
	limiter redisstore.SurgeLimiter,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		consumer: consumer,
		producer: producer,
		limiter:  limiter,
		logger:   logger,
	}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.consumer.Subscribe(ctx, d.route)
}

func (d *Dispatcher) route(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.route")
	defer span.End()

	var ref domain.QueueMessage
	if err := json.Unmarshal(msg.Value, &ref); err != nil {
		d.logger.Error("malformed message, sending to DLQ", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		telemetry.DispatcherDLQTotal.Inc()
		return d.toDLQ(ctx, msg.Value)
	}

	span.SetAttributes(
		attribute.String("job.id", ref.JobID),
		attribute.String("job.kind", string(ref.Kind)),
	)

	log := d.logger.With(
		slog.String("job_id", ref.JobID),
		slog.String("kind", string(ref.Kind)),
	)

	if ref.JobID == "" || !ref.Kind.Valid() {
		log.Error("missing job id or unknown kind, sending to DLQ")
		span.SetStatus(codes.Error, "invalid queue message")
		telemetry.DispatcherDLQTotal.Inc()
		return d.toDLQ(ctx, msg.Value)
	}

	// Surge protection for the provider. Over the limit the job goes back
	// onto the submission topic with a delay instead of being dropped.
	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, string(ref.Kind))
		if err != nil {
			log.Error("surge limiter error", slog.String("error", err.Error()))
			// Route on limiter failure so Redis trouble never stalls the pipeline.
		} else if !allowed {
			log.Warn("kind over surge limit, deferring", slog.Duration("delay", deferDelay))
			telemetry.DispatcherSurgeDelayed.WithLabelValues(string(ref.Kind)).Inc()
			if err := d.producer.PublishDelayed(ctx, kafka.TopicSubmitted, ref.JobID, msg.Value, deferDelay); err != nil {
				span.RecordError(err)
				return fmt.Errorf("defer to %s: %w", kafka.TopicSubmitted, err)
			}
			return nil
		}
	}

	target := kafka.KindTopic(string(ref.Kind))
	if err := d.producer.Publish(ctx, target, ref.JobID, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		// Transient Kafka error; no commit so the message is re-delivered.
		return fmt.Errorf("publish to %s: %w", target, err)
	}

	telemetry.DispatcherJobsRouted.WithLabelValues(string(ref.Kind)).Inc()
	log.Info("job routed", slog.String("topic", target))
	return nil
}

// toDLQ publishes a raw message to the dead-letter topic.
func (d *Dispatcher) toDLQ(ctx context.Context, payload []byte) error {
	if err := d.producer.Publish(ctx, kafka.TopicDLQ, "", payload); err != nil {
		d.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return err
	}
	return nil
}

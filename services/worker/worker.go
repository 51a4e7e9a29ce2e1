// Package worker executes generation jobs: it claims a queued job, calls the
// provider under a hard timeout, stores the artifact and drives the job to a
// terminal state. Retryable failures go back onto the queue with a delay.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Davide9292/v-try.app-sub001/internal/blob"
	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	"github.com/Davide9292/v-try.app-sub001/internal/kafka"
	"github.com/Davide9292/v-try.app-sub001/internal/postgres"
	"github.com/Davide9292/v-try.app-sub001/internal/provider"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
	"github.com/Davide9292/v-try.app-sub001/pkg/backoff"
	"github.com/Davide9292/v-try.app-sub001/pkg/telemetry"
)

// Worker consumes job references from a per-kind topic and executes them.
type Worker struct {
	consumer kafka.Consumer
	producer kafka.Producer
	store    postgres.JobStore
	cache    redisstore.ViewCache
	events   redisstore.EventPublisher
	blobs    blob.Store
	registry *provider.Registry
	workerID string
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

func WithTimeout(d time.Duration) Option { return func(w *Worker) { w.timeout = d } }
func WithLogger(l *slog.Logger) Option   { return func(w *Worker) { w.logger = l } }

// New constructs a Worker with the given dependencies and options.
func New(
	workerID string,
	consumer kafka.Consumer,
	producer kafka.Producer,
	store postgres.JobStore,
	cache redisstore.ViewCache,
	events redisstore.EventPublisher,
	blobs blob.Store,
	registry *provider.Registry,
	opts ...Option,
) *Worker {
	w := &Worker{
		workerID: workerID,
		consumer: consumer,
		producer: producer,
		store:    store,
		cache:    cache,
		events:   events,
		blobs:    blobs,
		registry: registry,
		timeout:  5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts consuming and processing messages. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Subscribe(ctx, w.processMessage)
}

// Wait blocks until all in-flight jobs finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// processMessage handles one queue delivery. It returns nil (committing the
// offset) for every outcome that must not be re-delivered: terminal results,
// lost claims and malformed messages. Only infrastructure errors where
// re-delivery can help return non-nil.
func (w *Worker) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var ref domain.QueueMessage
	if err := json.Unmarshal(msg.Value, &ref); err != nil || ref.JobID == "" {
		w.logger.Error("malformed queue message, sending to DLQ",
			slog.String("raw", string(msg.Value)),
		)
		_ = w.producer.Publish(consumerCtx, kafka.TopicDLQ, string(msg.Key), msg.Value)
		return nil
	}

	ctx, span := otel.Tracer("worker").Start(consumerCtx, "worker.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", ref.JobID),
		attribute.String("job.kind", string(ref.Kind)),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(
		slog.String("job_id", ref.JobID),
		slog.String("kind", string(ref.Kind)),
		slog.String("worker_id", w.workerID),
	)

	// The conditional QUEUED → PROCESSING update is the claim: on a duplicate
	// delivery or a race with another worker exactly one claimer wins and the
	// rest land here.
	job, err := w.store.Claim(ctx, ref.JobID)
	if err != nil {
		return w.handleClaimMiss(ctx, log, span, ref, err)
	}

	w.wg.Add(1)
	kindLabel := string(job.Kind)
	telemetry.WorkerJobsInFlight.WithLabelValues(kindLabel).Inc()
	defer func() {
		telemetry.WorkerJobsInFlight.WithLabelValues(kindLabel).Dec()
		w.wg.Done()
	}()

	log = log.With(slog.Int("attempt", job.Attempt))
	log.Info("job claimed")
	w.announce(ctx, job)

	start := time.Now()
	result, execErr := w.execute(ctx, span, job)
	telemetry.WorkerJobDurationSeconds.WithLabelValues(kindLabel).Observe(time.Since(start).Seconds())

	if execErr == nil {
		return w.finishSuccess(ctx, log, job, result)
	}
	span.RecordError(execErr)

	if provider.Retryable(execErr) && job.Attempt < domain.MaxAttempts {
		return w.finishRetry(ctx, log, job, execErr)
	}

	jobErr := provider.JobError(execErr)
	if provider.Retryable(execErr) {
		// Retryable but out of attempts.
		jobErr = domain.JobError{
			Code:    provider.CodeExhausted,
			Message: fmt.Sprintf("gave up after %d attempts: %s", job.Attempt, jobErr.Message),
		}
	}
	span.SetStatus(codes.Error, jobErr.Code)
	return w.finishFailure(ctx, log, job, jobErr)
}

// execute runs the provider call under the hard timeout. Progress callbacks
// heartbeat the job row and push live updates while the call runs.
func (w *Worker) execute(ctx context.Context, span trace.Span, job *domain.GenerationJob) (*provider.Result, error) {
	client, err := w.registry.Get(job.Kind)
	if err != nil {
		return nil, err
	}

	onProgress := func(p int) {
		if p <= job.Progress {
			return
		}
		job.Progress = p
		if err := w.store.SetProgress(ctx, job.ID, p); err != nil {
			w.logger.Warn("progress update failed",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		w.announce(ctx, job)
	}

	// Fresh context so the provider timeout is independent of consumer
	// shutdown; the span stays parented to the message trace.
	execCtx, cancel := context.WithTimeout(trace.ContextWithSpan(context.Background(), span), w.timeout)
	defer cancel()
	return client.Generate(execCtx, job, onProgress)
}

// handleClaimMiss maps a failed claim to its outcome. Lost claims and
// terminal jobs are expected duplicates and commit silently; an unknown job
// id on the queue is a bug and goes to the DLQ; anything else is an
// infrastructure error worth a re-delivery.
func (w *Worker) handleClaimMiss(ctx context.Context, log *slog.Logger, span trace.Span, ref domain.QueueMessage, err error) error {
	var claimLost *domain.ClaimLostError
	var terminal *domain.AlreadyTerminalError
	var notFound *domain.JobNotFoundError
	switch {
	case errors.As(err, &claimLost), errors.As(err, &terminal):
		telemetry.WorkerClaimsLost.WithLabelValues(string(ref.Kind)).Inc()
		log.Info("claim lost, dropping duplicate delivery", slog.String("reason", err.Error()))
		return nil
	case errors.As(err, &notFound):
		log.Error("queued job does not exist, sending to DLQ")
		span.SetStatus(codes.Error, "job not found")
		raw, _ := json.Marshal(ref)
		_ = w.producer.Publish(ctx, kafka.TopicDLQ, ref.JobID, raw)
		return nil
	default:
		log.Error("claim failed", slog.String("error", err.Error()))
		return fmt.Errorf("claim job %s: %w", ref.JobID, err)
	}
}

func (w *Worker) finishSuccess(ctx context.Context, log *slog.Logger, job *domain.GenerationJob, result *provider.Result) error {
	ref, err := w.blobs.Put(ctx, job.ID, result.Data, result.ContentType)
	if err != nil {
		// The artifact is lost with this delivery; re-deliver and regenerate.
		log.Error("artifact store failed", slog.String("error", err.Error()))
		return fmt.Errorf("store artifact for job %s: %w", job.ID, err)
	}

	updated, err := w.store.Complete(ctx, job.ID, ref)
	if err != nil {
		var terminal *domain.AlreadyTerminalError
		if errors.As(err, &terminal) {
			// Cancelled while we were generating. The result is discarded and
			// the cancellation stands.
			log.Info("job went terminal during generation, discarding result",
				slog.String("status", string(terminal.Status)))
			return nil
		}
		log.Error("complete failed", slog.String("error", err.Error()))
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	log.Info("job completed", slog.String("result_ref", ref))
	telemetry.WorkerJobsProcessed.WithLabelValues(string(job.Kind), "completed").Inc()
	w.announce(ctx, updated)
	return nil
}

func (w *Worker) finishRetry(ctx context.Context, log *slog.Logger, job *domain.GenerationJob, execErr error) error {
	updated, err := w.store.Requeue(ctx, job.ID)
	if err != nil {
		var terminal *domain.AlreadyTerminalError
		if errors.As(err, &terminal) {
			log.Info("job went terminal during generation, not retrying",
				slog.String("status", string(terminal.Status)))
			return nil
		}
		log.Error("requeue failed", slog.String("error", err.Error()))
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}

	delay := backoff.Delay(job.Attempt)
	raw, _ := json.Marshal(domain.QueueMessage{
		JobID: job.ID, OwnerID: job.OwnerID, Kind: job.Kind, Attempt: job.Attempt,
	})
	publishErr := backoff.Do(ctx, backoff.Config{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			log.Warn("re-enqueue publish failed, retrying",
				slog.Int("publish_attempt", attempt),
				slog.String("error", err.Error()))
		},
	}, func() error {
		return w.producer.PublishDelayed(ctx, kafka.KindTopic(string(job.Kind)), job.ID, raw, delay)
	})
	if publishErr != nil {
		// The row is QUEUED but no message carries it. Commit anyway: the
		// sweep lists stale QUEUED rows and republishes them, and redelivering
		// this offset would risk a double claim instead.
		log.Error("re-enqueue publish exhausted retries, leaving job for the sweeper",
			slog.String("error", publishErr.Error()))
	}

	log.Warn("attempt failed, retrying",
		slog.String("error", execErr.Error()),
		slog.Duration("delay", delay),
	)
	telemetry.WorkerRetriesTotal.WithLabelValues(string(job.Kind)).Inc()
	w.announce(ctx, updated)
	return nil
}

func (w *Worker) finishFailure(ctx context.Context, log *slog.Logger, job *domain.GenerationJob, jobErr domain.JobError) error {
	updated, err := w.store.Fail(ctx, job.ID, jobErr)
	if err != nil {
		var terminal *domain.AlreadyTerminalError
		if errors.As(err, &terminal) {
			log.Info("job already terminal, dropping failure",
				slog.String("status", string(terminal.Status)))
			return nil
		}
		log.Error("fail transition failed", slog.String("error", err.Error()))
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	log.Error("job failed",
		slog.String("error_code", jobErr.Code),
		slog.String("error_message", jobErr.Message),
	)
	telemetry.WorkerJobsProcessed.WithLabelValues(string(job.Kind), "failed").Inc()
	w.announce(ctx, updated)
	return nil
}

// announce refreshes the poll-path cache and pushes the live event. Both are
// best-effort; the job row already holds the truth.
func (w *Worker) announce(ctx context.Context, job *domain.GenerationJob) {
	if err := w.cache.Put(ctx, redisstore.ViewFromJob(job)); err != nil {
		w.logger.Warn("view cache update failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	if err := w.events.PublishEvent(ctx, domain.EventFromJob(job)); err != nil {
		w.logger.Warn("event publish failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

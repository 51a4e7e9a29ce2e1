// Package sweeper rescues jobs orphaned by crashed or partitioned workers.
// A job stuck in PROCESSING past the heartbeat deadline goes back onto the
// queue, or is failed outright once its attempts are spent. A job stale in
// QUEUED — requeued in the database but never published — gets its queue
// message republished.
package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	"github.com/Davide9292/v-try.app-sub001/internal/kafka"
	"github.com/Davide9292/v-try.app-sub001/internal/postgres"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
	"github.com/Davide9292/v-try.app-sub001/pkg/telemetry"
)

const (
	leaderKey = "sweeper:leader"
	leaderTTL = 30 * time.Second

	// DefaultStuckAfter is how long a PROCESSING job may go without a
	// heartbeat before it counts as stuck. Generous against the 5m provider
	// deadline so a slow-but-alive worker is never preempted.
	DefaultStuckAfter = 10 * time.Minute

	batchLimit = 100
)

// Sweeper periodically rescues stuck jobs. Only the elected leader sweeps,
// so multiple instances are safe to run.
type Sweeper struct {
	store      postgres.JobStore
	producer   kafka.Producer
	cache      redisstore.ViewCache
	events     redisstore.EventPublisher
	redis      *redis.Client
	schedule   cron.Schedule
	stuckAfter time.Duration
	instanceID string
	logger     *slog.Logger
}

func New(
	store postgres.JobStore,
	producer kafka.Producer,
	cache redisstore.ViewCache,
	events redisstore.EventPublisher,
	redisClient *redis.Client,
	schedule cron.Schedule,
	stuckAfter time.Duration,
	instanceID string,
	logger *slog.Logger,
) *Sweeper {
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	return &Sweeper{
		store:      store,
		producer:   producer,
		cache:      cache,
		events:     events,
		redis:      redisClient,
		schedule:   schedule,
		stuckAfter: stuckAfter,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Run fires sweeps on the cron schedule. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		if !s.acquireOrRenewLeadership(ctx) {
			continue
		}
		if err := s.sweep(ctx); err != nil {
			s.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
	}
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance is the leader.
func (s *Sweeper) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired sweeper leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Already set; renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// sweep rescues one batch of stuck jobs.
func (s *Sweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.stuckAfter)
	jobs, err := s.store.ListStuck(ctx, cutoff, batchLimit)
	if err != nil {
		return fmt.Errorf("list stuck jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.rescue(ctx, job, cutoff); err != nil {
			s.logger.Error("rescue failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *Sweeper) rescue(ctx context.Context, job *domain.GenerationJob, cutoff time.Time) error {
	log := s.logger.With(
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("attempt", job.Attempt),
	)

	// A QUEUED row gone stale means its queue message never made it out
	// (requeue committed, publish failed). Republishing is all it needs; a
	// duplicate message is harmless because the conditional claim absorbs it.
	if job.Status == domain.StatusQueued {
		raw, _ := json.Marshal(domain.QueueMessage{
			JobID: job.ID, OwnerID: job.OwnerID, Kind: job.Kind, Attempt: job.Attempt,
		})
		if err := s.producer.Publish(ctx, kafka.KindTopic(string(job.Kind)), job.ID, raw); err != nil {
			return fmt.Errorf("republish orphaned job: %w", err)
		}
		log.Warn("orphaned queued job republished")
		telemetry.SweeperJobsRepublished.Inc()
		return nil
	}

	if job.Attempt >= domain.MaxAttempts {
		updated, err := s.store.Fail(ctx, job.ID, domain.JobError{
			Code:    "attempts_exhausted",
			Message: fmt.Sprintf("worker lost after %d attempts", job.Attempt),
		})
		if err != nil {
			if isRaceLoss(err) {
				return nil // a live worker or the owner got there first
			}
			return fmt.Errorf("fail stuck job: %w", err)
		}
		log.Warn("stuck job failed, attempts spent")
		telemetry.SweeperJobsFailed.Inc()
		s.announce(ctx, updated)
		return nil
	}

	// The cutoff guard inside the update keeps us from yanking a job whose
	// worker heartbeated after the list query.
	updated, err := s.store.RequeueStuck(ctx, job.ID, cutoff)
	if err != nil {
		if isRaceLoss(err) {
			return nil
		}
		return fmt.Errorf("requeue stuck job: %w", err)
	}

	raw, _ := json.Marshal(domain.QueueMessage{
		JobID: updated.ID, OwnerID: updated.OwnerID, Kind: updated.Kind, Attempt: updated.Attempt,
	})
	if err := s.producer.Publish(ctx, kafka.KindTopic(string(updated.Kind)), updated.ID, raw); err != nil {
		// Row is QUEUED again with a fresh updated_at; once it goes stale the
		// next sweep lists it and the republish branch above heals it.
		log.Error("re-enqueue publish failed", slog.String("error", err.Error()))
	}

	log.Warn("stuck job requeued")
	telemetry.SweeperJobsRequeued.Inc()
	s.announce(ctx, updated)
	return nil
}

// isRaceLoss reports whether the transition was lost to a concurrent actor,
// which for the sweeper is a clean no-op.
func isRaceLoss(err error) bool {
	var terminal *domain.AlreadyTerminalError
	var claimLost *domain.ClaimLostError
	var notFound *domain.JobNotFoundError
	return errors.As(err, &terminal) || errors.As(err, &claimLost) || errors.As(err, &notFound)
}

func (s *Sweeper) announce(ctx context.Context, job *domain.GenerationJob) {
	if err := s.cache.Put(ctx, redisstore.ViewFromJob(job)); err != nil {
		s.logger.Warn("view cache update failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	if err := s.events.PublishEvent(ctx, domain.EventFromJob(job)); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

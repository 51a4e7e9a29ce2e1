//go:build integration

// Package integration contains end-to-end integration tests that require
// real infrastructure (Kafka, Redis, PostgreSQL) provided by testcontainers-go.
//
// Run with: go test -tags=integration -v ./tests/integration/
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davide9292/v-try.app-sub001/internal/blob"
	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	"github.com/Davide9292/v-try.app-sub001/internal/kafka"
	"github.com/Davide9292/v-try.app-sub001/internal/postgres"
	"github.com/Davide9292/v-try.app-sub001/internal/provider"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
	"github.com/Davide9292/v-try.app-sub001/services/dispatcher"
	"github.com/Davide9292/v-try.app-sub001/services/worker"
)

// stubProvider reports progress and returns a fixed artifact.
type stubProvider struct {
	kind domain.Kind
}

func (p *stubProvider) Kind() domain.Kind { return p.kind }

func (p *stubProvider) Generate(_ context.Context, _ *domain.GenerationJob, onProgress func(int)) (*provider.Result, error) {
	onProgress(50)
	return &provider.Result{Data: []byte("fake-image-bytes"), ContentType: "image/png"}, nil
}

// TestE2E_FullJobLifecycle runs the real dispatcher and worker against real
// infrastructure and walks one image job from submission to completion.
//
// Flow: gateway-side submit (row + publish) -> dispatcher routes by kind ->
// worker claims, reports progress, stores the artifact and completes ->
// Postgres terminal, view cache fresh, completion event fanned out.
func TestE2E_FullJobLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	// ── Infrastructure setup ─────────────────────────────────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		redisClient.FlushDB(ctx) //nolint:errcheck
		redisClient.Close()      //nolint:errcheck
	})

	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE generation_jobs, daily_usage") //nolint:errcheck
		pool.Close()
	})

	store := postgres.NewJobStore(pool)
	cache := redisstore.NewViewCache(redisClient)
	events := redisstore.NewEventPublisher(redisClient)
	blobs := blob.NewLocalFS(t.TempDir(), "http://localhost:8080/artifacts")

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	imageTopic := kafka.KindTopic(string(domain.KindImage))
	createTopic(t, kafka.TopicSubmitted)
	createTopic(t, imageTopic)

	runCtx, cancelRun := context.WithCancel(ctx)
	t.Cleanup(cancelRun)

	// ── Collect fan-out events for the owner ─────────────────────────────────
	completed := make(chan domain.Event, 16)
	go func() {
		redisstore.SubscribeEvents(runCtx, redisClient, logger, func(_ string, ev domain.Event) { //nolint:errcheck
			if ev.Type == domain.EventComplete {
				completed <- ev
			}
		})
	}()

	// ── Real dispatcher ──────────────────────────────────────────────────────
	groupSuffix := fmt.Sprintf("%d", time.Now().UnixNano())
	dispConsumer := kafka.NewConsumer(testKafkaBrokers, kafka.TopicSubmitted, "e2e-disp-"+groupSuffix, logger)
	t.Cleanup(func() { dispConsumer.Close() }) //nolint:errcheck

	disp := dispatcher.New(dispConsumer, producer, nil, logger)
	go disp.Run(runCtx) //nolint:errcheck

	// ── Real worker ──────────────────────────────────────────────────────────
	registry := provider.NewRegistry()
	registry.Register(&stubProvider{kind: domain.KindImage})

	workConsumer := kafka.NewConsumer(testKafkaBrokers, imageTopic, "e2e-worker-"+groupSuffix, logger)
	t.Cleanup(func() { workConsumer.Close() }) //nolint:errcheck

	w := worker.New("e2e-worker-1", workConsumer, producer, store, cache, events, blobs, registry)
	go w.Run(runCtx) //nolint:errcheck

	// Let both consumer groups finish joining before producing.
	time.Sleep(2 * time.Second)

	// ── Submit, the way the gateway does it ──────────────────────────────────
	jobID := uuid.New().String()
	now := time.Now().UTC()
	job := &domain.GenerationJob{
		ID:        jobID,
		OwnerID:   "user-e2e",
		Kind:      domain.KindImage,
		Status:    domain.StatusQueued,
		Payload:   []byte(`{"garment_url":"https://shop.example/jacket.jpg"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, job))

	raw, err := json.Marshal(domain.QueueMessage{
		JobID:   jobID,
		OwnerID: job.OwnerID,
		Kind:    job.Kind,
	})
	require.NoError(t, err)
	require.NoError(t, producer.Publish(ctx, kafka.TopicSubmitted, jobID, raw))

	// ── Wait for the completion event ────────────────────────────────────────
	waitCtx, cancelWait := context.WithTimeout(ctx, 60*time.Second)
	defer cancelWait()

	var ev domain.Event
	for ev.JobID != jobID {
		select {
		case ev = <-completed:
		case <-waitCtx.Done():
			t.Fatal("timed out waiting for completion event")
		}
	}
	assert.Equal(t, domain.StatusCompleted, ev.Status)
	assert.Equal(t, 100, ev.Progress)
	assert.NotEmpty(t, ev.ResultRef)

	// ── Postgres is the source of truth ──────────────────────────────────────
	final, err := store.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, 1, final.Attempt)
	assert.Equal(t, ev.ResultRef, final.ResultRef)
	assert.NotNil(t, final.FinishedAt)

	// ── The poll fast path sees the same terminal view ───────────────────────
	view, err := cache.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Status)
	assert.Equal(t, final.ResultRef, view.ResultRef)
	assert.Equal(t, "user-e2e", view.OwnerID)
}

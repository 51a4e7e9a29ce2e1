//go:build integration

package integration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
	redisstore "github.com/Davide9292/v-try.app-sub001/internal/redis"
)

// newRedisClient returns a client connected to the test container and flushes
// the database on test cleanup so tests don't interfere with each other.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

func TestRedis_ViewCache_RoundTrip(t *testing.T) {
	cache := redisstore.NewViewCache(newRedisClient(t))
	ctx := context.Background()

	view := redisstore.JobView{
		JobID:    "job-1",
		OwnerID:  "user-1",
		Status:   domain.StatusProcessing,
		Progress: 40,
	}
	require.NoError(t, cache.Put(ctx, view))

	got, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, view, got)
}

func TestRedis_ViewCache_NotFound(t *testing.T) {
	cache := redisstore.NewViewCache(newRedisClient(t))

	_, err := cache.Get(context.Background(), "does-not-exist")
	require.Error(t, err)

	var notFound *domain.JobNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "does-not-exist", notFound.JobID)
}

func TestRedis_ViewCache_TransitionsOverwrite(t *testing.T) {
	cache := redisstore.NewViewCache(newRedisClient(t))
	ctx := context.Background()

	states := []redisstore.JobView{
		{JobID: "job-fsm", OwnerID: "user-1", Status: domain.StatusQueued, Progress: 0},
		{JobID: "job-fsm", OwnerID: "user-1", Status: domain.StatusProcessing, Progress: 55},
		{JobID: "job-fsm", OwnerID: "user-1", Status: domain.StatusCompleted, Progress: 100,
			ResultRef: "blob://results/job-fsm"},
	}
	for _, view := range states {
		require.NoError(t, cache.Put(ctx, view))
		got, err := cache.Get(ctx, "job-fsm")
		require.NoError(t, err)
		assert.Equal(t, view, got, "cache should show %s", view.Status)
	}
}

// ── Event fan-out ────────────────────────────────────────────────────────────

func TestRedis_EventFanout_DeliversToSubscriber(t *testing.T) {
	client := newRedisClient(t)
	publisher := redisstore.NewEventPublisher(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan domain.Event, 1)
	subReady := make(chan struct{})
	go func() {
		close(subReady)
		redisstore.SubscribeEvents(ctx, client, slog.Default(), func(ownerID string, ev domain.Event) { //nolint:errcheck
			if ownerID == "user-1" {
				received <- ev
			}
		})
	}()
	<-subReady
	// Give the PSUBSCRIBE a moment to register before publishing.
	time.Sleep(200 * time.Millisecond)

	ev := domain.Event{
		Type:     domain.EventUpdate,
		JobID:    "job-1",
		OwnerID:  "user-1",
		Status:   domain.StatusProcessing,
		Progress: 70,
	}
	require.NoError(t, publisher.PublishEvent(ctx, ev))

	select {
	case got := <-received:
		assert.Equal(t, "job-1", got.JobID)
		assert.Equal(t, "user-1", got.OwnerID)
		assert.Equal(t, domain.StatusProcessing, got.Status)
		assert.Equal(t, 70, got.Progress)
	case <-ctx.Done():
		t.Fatal("timed out waiting for fan-out event")
	}
}

// ── Surge limiter ────────────────────────────────────────────────────────────

func TestSurgeLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := redisstore.NewSurgeLimiter(newRedisClient(t), 5, time.Second)
	ctx := context.Background()

	for i := range 5 {
		ok, err := limiter.Allow(ctx, "within-limit")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}
}

func TestSurgeLimiter_DefersOverLimit(t *testing.T) {
	limiter := redisstore.NewSurgeLimiter(newRedisClient(t), 3, time.Second)
	ctx := context.Background()

	for range 3 {
		ok, err := limiter.Allow(ctx, "over-limit")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "over-limit")
	require.NoError(t, err)
	assert.False(t, ok, "4th event in the window should be deferred")
}

func TestSurgeLimiter_WindowExpiry(t *testing.T) {
	// Use a short window so the test doesn't take too long.
	window := 200 * time.Millisecond
	limiter := redisstore.NewSurgeLimiter(newRedisClient(t), 2, window)
	ctx := context.Background()

	// Fill the window.
	for range 2 {
		ok, err := limiter.Allow(ctx, "expiry-key")
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Third event in the same window should be deferred.
	ok, err := limiter.Allow(ctx, "expiry-key")
	require.NoError(t, err)
	assert.False(t, ok, "should be deferred within window")

	// After the window expires, the limit resets.
	time.Sleep(window + 50*time.Millisecond)

	ok, err = limiter.Allow(ctx, "expiry-key")
	require.NoError(t, err)
	assert.True(t, ok, "should be allowed after window expires")
}

func TestSurgeLimiter_KindsIndependent(t *testing.T) {
	limiter := redisstore.NewSurgeLimiter(newRedisClient(t), 1, time.Second)
	ctx := context.Background()

	// Exhaust the image window.
	ok, err := limiter.Allow(ctx, "IMAGE")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "IMAGE")
	require.NoError(t, err)
	assert.False(t, ok, "IMAGE should be deferred")

	// VIDEO has its own independent window.
	ok, err = limiter.Allow(ctx, "VIDEO")
	require.NoError(t, err)
	assert.True(t, ok, "VIDEO should be independent of IMAGE")
}

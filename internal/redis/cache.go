package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

const viewTTL = 24 * time.Hour

func viewKey(jobID string) string { return "generation:view:" + jobID }

// JobView is the slice of a job the poll path serves hot: everything a
// client needs to render progress without touching Postgres.
type JobView struct {
	JobID     string           `json:"job_id"`
	OwnerID   string           `json:"owner_id"`
	Status    domain.Status    `json:"status"`
	Progress  int              `json:"progress"`
	ResultRef string           `json:"result_ref,omitempty"`
	Error     *domain.JobError `json:"error,omitempty"`
}

// ViewFromJob projects a job record into its cacheable view.
func ViewFromJob(job *domain.GenerationJob) JobView {
	return JobView{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultRef: job.ResultRef,
		Error:     job.Error,
	}
}

// ViewCache keeps the live job view in Redis. It is a read accelerator
// only: Postgres remains the source of truth and the cache is refreshed on
// every transition the workers or the gateway perform.
type ViewCache interface {
	Put(ctx context.Context, view JobView) error
	Get(ctx context.Context, jobID string) (JobView, error)
}

type viewCache struct {
	client *redis.Client
}

// NewViewCache creates a Redis-backed ViewCache.
func NewViewCache(client *redis.Client) ViewCache {
	return &viewCache{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (c *viewCache) Put(ctx context.Context, view JobView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal job view: %w", err)
	}
	if err := c.client.Set(ctx, viewKey(view.JobID), data, viewTTL).Err(); err != nil {
		return fmt.Errorf("redis set view for %s: %w", view.JobID, err)
	}
	return nil
}

func (c *viewCache) Get(ctx context.Context, jobID string) (JobView, error) {
	data, err := c.client.Get(ctx, viewKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return JobView{}, &domain.JobNotFoundError{JobID: jobID}
		}
		return JobView{}, fmt.Errorf("redis get view for %s: %w", jobID, err)
	}
	var view JobView
	if err := json.Unmarshal(data, &view); err != nil {
		return JobView{}, fmt.Errorf("unmarshal job view: %w", err)
	}
	return view, nil
}

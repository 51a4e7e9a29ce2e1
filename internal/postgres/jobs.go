package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// JobStore abstracts all database access for generation jobs.
//
// Every transition method is a conditional update on the current status:
// the WHERE clause is the mutual-exclusion point, there is no separate lock.
// A method whose condition matched no row returns ClaimLostError (someone
// else transitioned the job first) or AlreadyTerminalError.
type JobStore interface {
	Create(ctx context.Context, job *domain.GenerationJob) error
	GetByID(ctx context.Context, id string) (*domain.GenerationJob, error)
	GetOwned(ctx context.Context, id, ownerID string) (*domain.GenerationJob, error)

	// Claim transitions QUEUED → PROCESSING and increments attempt.
	// This IS the worker's claim: when two workers race, exactly one wins.
	Claim(ctx context.Context, id string) (*domain.GenerationJob, error)

	// SetProgress raises progress while PROCESSING; it never lowers it and
	// refreshes updated_at, which doubles as the worker heartbeat.
	SetProgress(ctx context.Context, id string, progress int) error

	Complete(ctx context.Context, id, resultRef string) (*domain.GenerationJob, error)
	Fail(ctx context.Context, id string, jobErr domain.JobError) (*domain.GenerationJob, error)

	// Requeue transitions PROCESSING → QUEUED for a retryable failure.
	Requeue(ctx context.Context, id string) (*domain.GenerationJob, error)

	// Cancel transitions a non-terminal job owned by ownerID to CANCELLED.
	Cancel(ctx context.Context, id, ownerID string) (*domain.GenerationJob, error)

	// ListStuck returns PROCESSING and QUEUED jobs whose updated_at predates
	// cutoff. Stale PROCESSING means a lost worker; stale QUEUED means the row
	// was requeued but the matching queue publish never landed.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*domain.GenerationJob, error)

	// RequeueStuck is the sweeper's conditional rescue of a single stuck job.
	// The updated_at guard keeps the sweep from racing a live worker that
	// heartbeated after the list query.
	RequeueStuck(ctx context.Context, id string, cutoff time.Time) (*domain.GenerationJob, error)
}

const jobColumns = `
	id, owner_id, kind, status, progress, payload, input_ref, result_ref,
	attempt, error_code, error_message, created_at, started_at, finished_at, updated_at`

type jobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore wraps a pgxpool with the JobStore interface.
func NewJobStore(pool *pgxpool.Pool) JobStore {
	return &jobStore{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (s *jobStore) Create(ctx context.Context, job *domain.GenerationJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_jobs
			(id, owner_id, kind, status, progress, payload, input_ref, attempt, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		job.ID, job.OwnerID, string(job.Kind), string(job.Status),
		job.Progress, job.Payload, job.InputRef, job.Attempt,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *jobStore) GetByID(ctx context.Context, id string) (*domain.GenerationJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	return scanJob(row, id)
}

func (s *jobStore) GetOwned(ctx context.Context, id, ownerID string) (*domain.GenerationJob, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		// Ownership mismatch is reported as not-found so job ids cannot be
		// probed across accounts.
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	return job, nil
}

func (s *jobStore) Claim(ctx context.Context, id string) (*domain.GenerationJob, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $1,
		    attempt = attempt + 1,
		    started_at = COALESCE(started_at, $2),
		    updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING`+jobColumns,
		string(domain.StatusProcessing), now, id, string(domain.StatusQueued),
	)
	job, err := scanJob(row, id)
	if err == nil {
		return job, nil
	}
	var notFound *domain.JobNotFoundError
	if errors.As(err, &notFound) {
		return nil, s.classifyMiss(ctx, id, domain.StatusQueued)
	}
	return nil, fmt.Errorf("claim job %s: %w", id, err)
}

func (s *jobStore) SetProgress(ctx context.Context, id string, progress int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET progress = GREATEST(progress, LEAST($1, 100)), updated_at = $2
		WHERE id = $3 AND status = $4
	`, progress, time.Now().UTC(), id, string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("set progress for job %s: %w", id, err)
	}
	return nil
}

func (s *jobStore) Complete(ctx context.Context, id, resultRef string) (*domain.GenerationJob, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $1, progress = 100, result_ref = $2,
		    finished_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING`+jobColumns,
		string(domain.StatusCompleted), resultRef, now, id, string(domain.StatusProcessing),
	)
	return s.finishScan(ctx, row, id)
}

func (s *jobStore) Fail(ctx context.Context, id string, jobErr domain.JobError) (*domain.GenerationJob, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $1, error_code = $2, error_message = $3,
		    finished_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
		RETURNING`+jobColumns,
		string(domain.StatusFailed), jobErr.Code, jobErr.Message, now,
		id, string(domain.StatusProcessing),
	)
	return s.finishScan(ctx, row, id)
}

func (s *jobStore) Requeue(ctx context.Context, id string) (*domain.GenerationJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING`+jobColumns,
		string(domain.StatusQueued), time.Now().UTC(), id, string(domain.StatusProcessing),
	)
	return s.finishScan(ctx, row, id)
}

func (s *jobStore) Cancel(ctx context.Context, id, ownerID string) (*domain.GenerationJob, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $1, finished_at = $2, updated_at = $2
		WHERE id = $3 AND owner_id = $4 AND status IN ($5, $6)
		RETURNING`+jobColumns,
		string(domain.StatusCancelled), now, id, ownerID,
		string(domain.StatusQueued), string(domain.StatusProcessing),
	)
	job, err := scanJob(row, id)
	if err == nil {
		return job, nil
	}
	var notFound *domain.JobNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}

	// Condition matched nothing: distinguish unknown / foreign / terminal.
	existing, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.OwnerID != ownerID {
		return nil, &domain.NotOwnerError{JobID: id, OwnerID: ownerID}
	}
	return nil, &domain.AlreadyTerminalError{JobID: id, Status: existing.Status}
}

func (s *jobStore) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*domain.GenerationJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM generation_jobs
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`, string(domain.StatusProcessing), string(domain.StatusQueued), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *jobStore) RequeueStuck(ctx context.Context, id string, cutoff time.Time) (*domain.GenerationJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND updated_at < $5
		RETURNING`+jobColumns,
		string(domain.StatusQueued), time.Now().UTC(), id,
		string(domain.StatusProcessing), cutoff,
	)
	return s.finishScan(ctx, row, id)
}

// finishScan maps a no-row result on a PROCESSING-conditioned update to the
// precise domain error: the job vanished, went terminal, or changed hands.
func (s *jobStore) finishScan(ctx context.Context, row pgx.Row, id string) (*domain.GenerationJob, error) {
	job, err := scanJob(row, id)
	if err == nil {
		return job, nil
	}
	var notFound *domain.JobNotFoundError
	if errors.As(err, &notFound) {
		return nil, s.classifyMiss(ctx, id, domain.StatusProcessing)
	}
	return nil, err
}

func (s *jobStore) classifyMiss(ctx context.Context, id string, expected domain.Status) error {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status.IsTerminal() {
		return &domain.AlreadyTerminalError{JobID: id, Status: existing.Status}
	}
	return &domain.ClaimLostError{JobID: id, Expected: expected}
}

// scanJob reads a job row from any pgx row type.
func scanJob(row interface {
	Scan(...any) error
}, id string) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var kindStr, statusStr string
	var inputRef, resultRef, errCode, errMsg *string
	err := row.Scan(
		&job.ID, &job.OwnerID, &kindStr, &statusStr, &job.Progress,
		&job.Payload, &inputRef, &resultRef, &job.Attempt,
		&errCode, &errMsg,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.JobNotFoundError{JobID: id}
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Kind = domain.Kind(kindStr)
	job.Status = domain.Status(statusStr)
	if inputRef != nil {
		job.InputRef = *inputRef
	}
	if resultRef != nil {
		job.ResultRef = *resultRef
	}
	if errCode != nil || errMsg != nil {
		job.Error = &domain.JobError{}
		if errCode != nil {
			job.Error.Code = *errCode
		}
		if errMsg != nil {
			job.Error.Message = *errMsg
		}
	}
	return &job, nil
}

package domain

import "time"

// Kind is the type of media a job produces.
type Kind string

const (
	KindImage Kind = "IMAGE"
	KindVideo Kind = "VIDEO"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// Status represents the states a generation job can be in.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next follows the job
// lifecycle graph. Terminal states permit nothing.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusQueued || next == StatusCancelled
	default:
		return false
	}
}

// MaxAttempts is the total number of worker attempts before a job with
// retryable failures is declared FAILED.
const MaxAttempts = 3

// JobError carries the machine code and human-readable message recorded on a
// FAILED job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GenerationJob is the core domain entity: one requested generation with its
// own lifecycle. Mutated only through conditional status updates.
type GenerationJob struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Payload    []byte     `json:"payload"`
	InputRef   string     `json:"input_ref,omitempty"`
	ResultRef  string     `json:"result_ref,omitempty"`
	Attempt    int        `json:"attempt"`
	Error      *JobError  `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// QueueMessage is the reference carried on the durable queue from admission
// to the workers. The job record itself stays in the store.
type QueueMessage struct {
	JobID   string `json:"job_id"`
	OwnerID string `json:"owner_id"`
	Kind    Kind   `json:"kind"`
	Attempt int    `json:"attempt"`
}

// Tier is a subscription level used to resolve daily quota limits.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

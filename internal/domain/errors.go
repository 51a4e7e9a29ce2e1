package domain

import "fmt"

// JobNotFoundError is returned when a job ID does not exist or is not
// visible to the caller.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// NotOwnerError is returned when a caller operates on a job owned by
// somebody else.
type NotOwnerError struct {
	JobID   string
	OwnerID string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("job %s is not owned by %s", e.JobID, e.OwnerID)
}

// AlreadyTerminalError is returned when a transition is requested on a job
// that already reached COMPLETED, FAILED or CANCELLED.
type AlreadyTerminalError struct {
	JobID  string
	Status Status
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("job %s already terminal with status %s", e.JobID, e.Status)
}

// QuotaExceededError is returned when the daily counter for the
// (owner, day, kind) key is at its tier limit.
type QuotaExceededError struct {
	OwnerID string
	Kind    Kind
	Limit   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s quota exceeded for %s: limit is %d", e.Kind, e.OwnerID, e.Limit)
}

// InvalidPayloadError is returned at admission when the request fails
// structural validation. The payload's business meaning is opaque here.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

// ClaimLostError is returned when a conditional status update matched no
// row, i.e. another actor transitioned the job first.
type ClaimLostError struct {
	JobID    string
	Expected Status
}

func (e *ClaimLostError) Error() string {
	return fmt.Sprintf("job %s is no longer %s", e.JobID, e.Expected)
}

// Package provider defines the contract with the external generation
// provider. The payload is opaque to the pipeline; all the orchestrator
// cares about is bytes back or a failure classified retryable vs fatal.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// Error codes recorded on FAILED jobs.
const (
	CodeRejected    = "provider_rejected"
	CodeTimeout     = "provider_timeout"
	CodeUnavailable = "provider_unavailable"
	CodeExhausted   = "attempts_exhausted"
	CodeInternal    = "internal"
)

// Error is a typed provider failure.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// Retryable reports whether err is worth another attempt (timeouts and
// transient provider trouble). Unclassified errors count as retryable so an
// infrastructure hiccup never permanently fails a job on its own.
func Retryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return true
}

// JobError converts a provider failure into the error recorded on the job.
func JobError(err error) domain.JobError {
	var perr *Error
	if errors.As(err, &perr) {
		return domain.JobError{Code: perr.Code, Message: perr.Message}
	}
	return domain.JobError{Code: CodeInternal, Message: err.Error()}
}

// Result is the provider's output: raw artifact bytes for the object store.
type Result struct {
	Data        []byte
	ContentType string
}

// Client generates one artifact. Implementations must honor ctx (the worker
// enforces a hard timeout through it) and may report coarse progress via
// onProgress with values in [0,100].
type Client interface {
	Kind() domain.Kind
	Generate(ctx context.Context, job *domain.GenerationJob, onProgress func(int)) (*Result, error)
}

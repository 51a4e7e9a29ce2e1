package domain

// EventType tags a fan-out message. One variant per kind of state change a
// subscriber can observe.
type EventType string

const (
	EventUpdate   EventType = "generation_update"
	EventComplete EventType = "generation_complete"
	EventFailed   EventType = "generation_failed"
)

// Event is the envelope published to every live connection subscribed to the
// owning user's channel. Delivery is best-effort; the poll path is the
// authoritative fallback.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	OwnerID   string    `json:"-"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	ResultRef string    `json:"result_ref,omitempty"`
	Error     *JobError `json:"error,omitempty"`
}

// EventFromJob builds the fan-out envelope for the job's current state.
func EventFromJob(job *GenerationJob) Event {
	ev := Event{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultRef: job.ResultRef,
		Error:     job.Error,
	}
	switch job.Status {
	case StatusCompleted:
		ev.Type = EventComplete
	case StatusFailed:
		ev.Type = EventFailed
	default:
		ev.Type = EventUpdate
	}
	return ev
}

package domain_test

import (
	"testing"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   string
	}{
		{domain.StatusQueued, "QUEUED"},
		{domain.StatusProcessing, "PROCESSING"},
		{domain.StatusCompleted, "COMPLETED"},
		{domain.StatusFailed, "FAILED"},
		{domain.StatusCancelled, "CANCELLED"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("Status value = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled} {
		t.Run(string(s), func(t *testing.T) {
			if !s.IsTerminal() {
				t.Errorf("IsTerminal(%q) = false, want true", s)
			}
		})
	}
	for _, s := range []domain.Status{domain.StatusQueued, domain.StatusProcessing} {
		t.Run(string(s), func(t *testing.T) {
			if s.IsTerminal() {
				t.Errorf("IsTerminal(%q) = true, want false", s)
			}
		})
	}
}

func TestCanTransition_FollowsLifecycleGraph(t *testing.T) {
	allowed := map[domain.Status][]domain.Status{
		domain.StatusQueued: {domain.StatusProcessing, domain.StatusCancelled},
		domain.StatusProcessing: {
			domain.StatusCompleted, domain.StatusFailed,
			domain.StatusQueued, domain.StatusCancelled,
		},
	}
	all := []domain.Status{
		domain.StatusQueued, domain.StatusProcessing,
		domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s → %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanTransition_TerminalStatesPermitNothing(t *testing.T) {
	for _, from := range []domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled} {
		for _, to := range []domain.Status{domain.StatusQueued, domain.StatusProcessing, domain.StatusCompleted} {
			if from.CanTransition(to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestKindValid(t *testing.T) {
	if !domain.KindImage.Valid() || !domain.KindVideo.Valid() {
		t.Error("IMAGE and VIDEO must be valid kinds")
	}
	if domain.Kind("GIF").Valid() {
		t.Error("unknown kind must be invalid")
	}
}

func TestEventFromJob_TypeMatchesStatus(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   domain.EventType
	}{
		{domain.StatusQueued, domain.EventUpdate},
		{domain.StatusProcessing, domain.EventUpdate},
		{domain.StatusCancelled, domain.EventUpdate},
		{domain.StatusCompleted, domain.EventComplete},
		{domain.StatusFailed, domain.EventFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			ev := domain.EventFromJob(&domain.GenerationJob{
				ID:      "job-1",
				OwnerID: "owner-1",
				Status:  tt.status,
			})
			if ev.Type != tt.want {
				t.Errorf("EventFromJob(%s).Type = %s, want %s", tt.status, ev.Type, tt.want)
			}
			if ev.JobID != "job-1" || ev.OwnerID != "owner-1" {
				t.Errorf("event must carry job and owner ids, got %+v", ev)
			}
		})
	}
}

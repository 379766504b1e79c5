package workflow

import (
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// TransitionTicket changes the ticket-level status. It is a separate state
// machine from the step statuses; callers decide when to move it.
func TransitionTicket(t *models.Ticket, to models.TicketStatus, ts time.Time) error {
	if !to.Valid() {
		return apperrors.Validation("ticket", t.ID, "unknown status %q", to)
	}
	if !t.Status.CanTransitionTo(to) {
		return apperrors.Validation("ticket", t.ID, "illegal status change %s -> %s", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = ts
	return nil
}

// DerivedStatus is the ticket status implied by the step statuses: completed
// when every step is completed, in_progress once any step beyond the initial
// set has moved, otherwise opened. Closed tickets stay closed.
func DerivedStatus(t *models.Ticket) models.TicketStatus {
	if t.Status == models.TicketClosed || t.Workflow == nil {
		return t.Status
	}
	if t.Workflow.AllCompleted() {
		return models.TicketCompleted
	}
	for _, s := range t.Workflow.Steps {
		if s.Status == models.StepCompleted || s.Status == models.StepRejected {
			return models.TicketInProgress
		}
	}
	return models.TicketOpened
}

// SyncStatus applies DerivedStatus when it differs from the current status
// and the ticket machine allows the move. It reports whether the status changed.
func SyncStatus(t *models.Ticket, ts time.Time) bool {
	next := DerivedStatus(t)
	if next == t.Status || !t.Status.CanTransitionTo(next) {
		return false
	}
	t.Status = next
	t.UpdatedAt = ts
	return true
}

package models

import (
	"time"
)

// TicketStatus is the overall status of a ticket, independent of step status.
type TicketStatus string

const (
	TicketOpened     TicketStatus = "opened"
	TicketInProgress TicketStatus = "in_progress"
	TicketCompleted  TicketStatus = "completed"
	TicketClosed     TicketStatus = "closed"
)

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpened, TicketInProgress, TicketCompleted, TicketClosed:
		return true
	}
	return false
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketOpened:     {TicketInProgress, TicketCompleted, TicketClosed},
	TicketInProgress: {TicketCompleted, TicketClosed},
	TicketCompleted:  {TicketInProgress, TicketClosed},
	TicketClosed:     {TicketOpened},
}

// CanTransitionTo reports whether the ticket-level status machine allows s -> next.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Ticket is the persisted aggregate: ticket fields plus its workflow state.
type Ticket struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      TicketStatus   `json:"status"`
	Priority    string         `json:"priority"`
	CreatedBy   int64          `json:"created_by"`
	TemplateID  int64          `json:"template_id"`
	Workflow    *WorkflowState `json:"workflow_data"`
	// Version is the optimistic-concurrency stamp, bumped on every save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasHistory reports whether any user has acted on the ticket's steps. The
// entries written when the workflow is instantiated carry no user and do not
// count.
func (t *Ticket) HasHistory() bool {
	if t.Workflow == nil {
		return false
	}
	for _, s := range t.Workflow.Steps {
		for _, h := range s.History {
			if h.UserID != nil {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Workflow = t.Workflow.Clone()
	return &cp
}

// ListRequest paginates ticket listings.
type ListRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// DefaultListLimit applies when a ListRequest has no positive limit.
const DefaultListLimit = 100

// Normalize fills defaults and clamps negative values.
func (r ListRequest) Normalize() ListRequest {
	if r.Offset < 0 {
		r.Offset = 0
	}
	if r.Limit <= 0 {
		r.Limit = DefaultListLimit
	}
	return r
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// MemoryTicketRepository is an in-memory TicketRepository.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[int64]*models.Ticket
	nextID  int64
}

// NewMemoryTicketRepository creates an empty repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[int64]*models.Ticket),
		nextID:  1,
	}
}

// CreateTicket stores a copy of t, assigning its ID and initial version.
func (r *MemoryTicketRepository) CreateTicket(ctx context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.ID = r.nextID
	r.nextID++
	t.Version = 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	r.tickets[t.ID] = t.Clone()
	return nil
}

// UpdateTicket writes t when its version matches the stored one.
func (r *MemoryTicketRepository) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[t.ID]
	if !ok {
		return apperrors.NotFound("ticket", t.ID)
	}
	if stored.Version != t.Version {
		return apperrors.Conflict("ticket", t.ID, "version %d is stale, current is %d", t.Version, stored.Version)
	}
	t.Version++
	t.CreatedAt = stored.CreatedAt
	r.tickets[t.ID] = t.Clone()
	return nil
}

// GetTicket returns a copy of the ticket.
func (r *MemoryTicketRepository) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NotFound("ticket", id)
	}
	return t.Clone(), nil
}

// ListTickets returns matching tickets newest first, ties broken by ID.
func (r *MemoryTicketRepository) ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	page := filter.ListRequest.Normalize()
	matched := make([]*models.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		if filter.TemplateID != 0 && t.TemplateID != filter.TemplateID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != 0 && t.CreatedBy != filter.CreatedBy {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if page.Offset >= len(matched) {
		return []*models.Ticket{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*models.Ticket, 0, end-page.Offset)
	for _, t := range matched[page.Offset:end] {
		out = append(out, t.Clone())
	}
	return out, nil
}

// DeleteTicket removes a ticket.
func (r *MemoryTicketRepository) DeleteTicket(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[id]; !ok {
		return apperrors.NotFound("ticket", id)
	}
	delete(r.tickets, id)
	return nil
}

// CountByTemplate counts tickets created from templateID.
func (r *MemoryTicketRepository) CountByTemplate(ctx context.Context, templateID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, t := range r.tickets {
		if t.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

// Package repository persists templates, tickets and role bindings. Each
// store has an in-memory implementation for tests and single-process use
// and a SQL implementation on sqlx.
package repository

import (
	"context"

	"github.com/officeflow/officeflow/internal/auth"
	"github.com/officeflow/officeflow/internal/models"
)

// TemplateRepository stores ticket templates.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, tmpl *models.Template) error
	UpdateTemplate(ctx context.Context, tmpl *models.Template) error
	GetTemplate(ctx context.Context, id int64) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]*models.Template, error)
	DeleteTemplate(ctx context.Context, id int64) error
}

// TicketFilter narrows a ticket listing. Zero fields do not filter.
type TicketFilter struct {
	models.ListRequest
	TemplateID int64
	Status     models.TicketStatus
	CreatedBy  int64
}

// TicketRepository stores ticket aggregates, workflow state included.
//
// UpdateTicket is a compare-and-swap on Version: it succeeds only when the
// stored version equals t.Version and then increments t.Version. A stale
// version yields an apperrors Conflict.
type TicketRepository interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	UpdateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	// ListTickets returns tickets newest first.
	ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error)
	DeleteTicket(ctx context.Context, id int64) error
	CountByTemplate(ctx context.Context, templateID int64) (int, error)
}

// RoleRepository stores roles and user bindings. Its read side feeds the
// permission resolver.
type RoleRepository interface {
	auth.RoleSource
	CreateRole(ctx context.Context, role *models.Role) error
	UpdateRole(ctx context.Context, role *models.Role) error
	ListRoles(ctx context.Context) ([]*models.Role, error)
	AssignUserRole(ctx context.Context, ur *models.UserRole) error
	RevokeUserRole(ctx context.Context, userID, roleID int64) error
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/database"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/workflow"
)

var ticketColumns = []string{
	"id", "title", "description", "status", "priority", "created_by",
	"template_id", "workflow_data", "version", "created_at", "updated_at",
}

type ticketRow struct {
	ID           int64          `db:"id"`
	Title        string         `db:"title"`
	Description  sql.NullString `db:"description"`
	Status       string         `db:"status"`
	Priority     sql.NullString `db:"priority"`
	CreatedBy    int64          `db:"created_by"`
	TemplateID   int64          `db:"template_id"`
	WorkflowData []byte         `db:"workflow_data"`
	Version      int64          `db:"version"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r ticketRow) toModel() (*models.Ticket, error) {
	status := models.TicketStatus(r.Status)
	if !status.Valid() {
		return nil, apperrors.Integrity("ticket", r.ID, "unknown stored status %q", r.Status)
	}
	state, err := workflow.Decode(r.WorkflowData)
	if err != nil {
		return nil, apperrors.Integrity("ticket", r.ID, "unreadable workflow_data").Wrap(err)
	}
	return &models.Ticket{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description.String,
		Status:      status,
		Priority:    r.Priority.String,
		CreatedBy:   r.CreatedBy,
		TemplateID:  r.TemplateID,
		Workflow:    state,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// SQLTicketRepository stores tickets in the tickets table with the workflow
// state in the workflow_data JSON column.
type SQLTicketRepository struct {
	qb *database.QueryBuilder
}

// NewSQLTicketRepository creates a repository on qb.
func NewSQLTicketRepository(qb *database.QueryBuilder) *SQLTicketRepository {
	return &SQLTicketRepository{qb: qb}
}

// CreateTicket inserts t at version 1.
func (r *SQLTicketRepository) CreateTicket(ctx context.Context, t *models.Ticket) error {
	data, err := workflow.Encode(t.Workflow)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	id, err := r.qb.InsertContext(ctx, `INSERT INTO tickets
		(title, description, status, priority, created_by, template_id, workflow_data, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, string(t.Status), t.Priority, t.CreatedBy,
		t.TemplateID, data, int64(1), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.Integrity("ticket", nil, "template %d does not exist", t.TemplateID).Wrap(err)
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	t.ID = id
	t.Version = 1
	return nil
}

// UpdateTicket writes t when the stored version equals t.Version.
func (r *SQLTicketRepository) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	data, err := workflow.Encode(t.Workflow)
	if err != nil {
		return err
	}
	res, err := r.qb.ExecContext(ctx, `UPDATE tickets
		SET title = ?, description = ?, status = ?, priority = ?, workflow_data = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		t.Title, t.Description, string(t.Status), t.Priority, data, t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("update ticket %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket %d rows affected: %w", t.ID, err)
	}
	if n == 0 {
		var current int64
		err := r.qb.GetContext(ctx, &current, "SELECT version FROM tickets WHERE id = ?", t.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("ticket", t.ID)
		}
		if err != nil {
			return fmt.Errorf("read version of ticket %d: %w", t.ID, err)
		}
		return apperrors.Conflict("ticket", t.ID, "version %d is stale, current is %d", t.Version, current)
	}
	t.Version++
	return nil
}

// GetTicket loads a ticket by ID.
func (r *SQLTicketRepository) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	query, args, err := r.qb.NewSelect(ticketColumns...).From("tickets").Where("id = ?", id).ToSQL()
	if err != nil {
		return nil, err
	}
	var row ticketRow
	err = r.qb.DB().GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	return row.toModel()
}

// ListTickets returns matching tickets newest first.
func (r *SQLTicketRepository) ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	page := filter.ListRequest.Normalize()
	sb := r.qb.NewSelect(ticketColumns...).From("tickets")
	if filter.TemplateID != 0 {
		sb.Where("template_id = ?", filter.TemplateID)
	}
	if filter.Status != "" {
		sb.Where("status = ?", string(filter.Status))
	}
	if filter.CreatedBy != 0 {
		sb.Where("created_by = ?", filter.CreatedBy)
	}
	sb.OrderBy("created_at DESC", "id DESC").Limit(page.Limit).Offset(page.Offset)

	var rows []ticketRow
	if err := sb.SelectContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	out := make([]*models.Ticket, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTicket removes a ticket row.
func (r *SQLTicketRepository) DeleteTicket(ctx context.Context, id int64) error {
	res, err := r.qb.ExecContext(ctx, "DELETE FROM tickets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete ticket %d: %w", id, err)
	}
	return requireAffected(res, "ticket", id)
}

// CountByTemplate counts tickets created from templateID.
func (r *SQLTicketRepository) CountByTemplate(ctx context.Context, templateID int64) (int, error) {
	var n int
	if err := r.qb.GetContext(ctx, &n, "SELECT COUNT(*) FROM tickets WHERE template_id = ?", templateID); err != nil {
		return 0, fmt.Errorf("count tickets of template %d: %w", templateID, err)
	}
	return n, nil
}

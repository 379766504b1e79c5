package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/database"
	"github.com/officeflow/officeflow/internal/models"
)

const templateColumns = "id, name, description, title_format, default_priority, workflow, workflow_config, created_by, created_at, updated_at"

type templateRow struct {
	ID              int64          `db:"id"`
	Name            string         `db:"name"`
	Description     sql.NullString `db:"description"`
	TitleFormat     sql.NullString `db:"title_format"`
	DefaultPriority sql.NullString `db:"default_priority"`
	Workflow        []byte         `db:"workflow"`
	WorkflowConfig  []byte         `db:"workflow_config"`
	CreatedBy       int64          `db:"created_by"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r templateRow) toModel() (*models.Template, error) {
	t := &models.Template{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description.String,
		TitleFormat:     r.TitleFormat.String,
		DefaultPriority: r.DefaultPriority.String,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Workflow, &t.Workflow); err != nil {
		return nil, apperrors.Integrity("template", r.ID, "malformed workflow column").Wrap(err)
	}
	if len(r.WorkflowConfig) > 0 && string(r.WorkflowConfig) != "null" {
		var cfg models.WorkflowConfig
		if err := json.Unmarshal(r.WorkflowConfig, &cfg); err != nil {
			return nil, apperrors.Integrity("template", r.ID, "malformed workflow_config column").Wrap(err)
		}
		t.WorkflowConfig = &cfg
	}
	return t, nil
}

func encodeTemplate(t *models.Template) (workflow, cfg []byte, err error) {
	if workflow, err = json.Marshal(t.Workflow); err != nil {
		return nil, nil, fmt.Errorf("encode template workflow: %w", err)
	}
	if cfg, err = json.Marshal(t.WorkflowConfig); err != nil {
		return nil, nil, fmt.Errorf("encode template workflow config: %w", err)
	}
	return workflow, cfg, nil
}

// SQLTemplateRepository stores templates in the ticket_templates table.
type SQLTemplateRepository struct {
	qb *database.QueryBuilder
}

// NewSQLTemplateRepository creates a repository on qb.
func NewSQLTemplateRepository(qb *database.QueryBuilder) *SQLTemplateRepository {
	return &SQLTemplateRepository{qb: qb}
}

// CreateTemplate inserts tmpl and sets its ID.
func (r *SQLTemplateRepository) CreateTemplate(ctx context.Context, tmpl *models.Template) error {
	workflow, cfg, err := encodeTemplate(tmpl)
	if err != nil {
		return err
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now().UTC()
	}
	tmpl.UpdatedAt = tmpl.CreatedAt

	id, err := r.qb.InsertContext(ctx, `INSERT INTO ticket_templates
		(name, description, title_format, default_priority, workflow, workflow_config, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.Name, tmpl.Description, tmpl.TitleFormat, tmpl.DefaultPriority,
		workflow, cfg, tmpl.CreatedBy, tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Validation("template", tmpl.Name, "name already exists")
		}
		return fmt.Errorf("insert template: %w", err)
	}
	tmpl.ID = id
	return nil
}

// UpdateTemplate rewrites a template row in place.
func (r *SQLTemplateRepository) UpdateTemplate(ctx context.Context, tmpl *models.Template) error {
	workflow, cfg, err := encodeTemplate(tmpl)
	if err != nil {
		return err
	}
	if tmpl.UpdatedAt.IsZero() {
		tmpl.UpdatedAt = time.Now().UTC()
	}
	res, err := r.qb.ExecContext(ctx, `UPDATE ticket_templates
		SET name = ?, description = ?, title_format = ?, default_priority = ?,
		    workflow = ?, workflow_config = ?, updated_at = ?
		WHERE id = ?`,
		tmpl.Name, tmpl.Description, tmpl.TitleFormat, tmpl.DefaultPriority,
		workflow, cfg, tmpl.UpdatedAt, tmpl.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Validation("template", tmpl.Name, "name already exists")
		}
		return fmt.Errorf("update template %d: %w", tmpl.ID, err)
	}
	return requireAffected(res, "template", tmpl.ID)
}

// GetTemplate loads a template by ID.
func (r *SQLTemplateRepository) GetTemplate(ctx context.Context, id int64) (*models.Template, error) {
	var row templateRow
	err := r.qb.GetContext(ctx, &row, "SELECT "+templateColumns+" FROM ticket_templates WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("template", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return row.toModel()
}

// ListTemplates returns every template sorted by name.
func (r *SQLTemplateRepository) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	var rows []templateRow
	if err := r.qb.SelectContext(ctx, &rows, "SELECT "+templateColumns+" FROM ticket_templates ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]*models.Template, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTemplate removes a template no ticket references. The reference
// check runs first; the foreign key catches a ticket created in between.
func (r *SQLTemplateRepository) DeleteTemplate(ctx context.Context, id int64) error {
	var n int
	if err := r.qb.GetContext(ctx, &n, "SELECT COUNT(*) FROM tickets WHERE template_id = ?", id); err != nil {
		return fmt.Errorf("count tickets of template %d: %w", id, err)
	}
	if n > 0 {
		return apperrors.Integrity("template", id, "referenced by %d ticket(s)", n)
	}
	res, err := r.qb.ExecContext(ctx, "DELETE FROM ticket_templates WHERE id = ?", id)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.Integrity("template", id, "referenced by tickets").Wrap(err)
		}
		return fmt.Errorf("delete template %d: %w", id, err)
	}
	return requireAffected(res, "template", id)
}

func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d rows affected: %w", entity, id, err)
	}
	if n == 0 {
		return apperrors.NotFound(entity, id)
	}
	return nil
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// MemoryTemplateRepository is an in-memory TemplateRepository.
type MemoryTemplateRepository struct {
	mu        sync.RWMutex
	templates map[int64]*models.Template
	nextID    int64
	inUse     func(ctx context.Context, templateID int64) (int, error)
}

// NewMemoryTemplateRepository creates an empty repository. When tickets is
// non-nil, deleting a template that tickets still reference fails.
func NewMemoryTemplateRepository(tickets TicketRepository) *MemoryTemplateRepository {
	r := &MemoryTemplateRepository{
		templates: make(map[int64]*models.Template),
		nextID:    1,
	}
	if tickets != nil {
		r.inUse = tickets.CountByTemplate
	}
	return r
}

// CreateTemplate stores a copy of tmpl and assigns its ID.
func (r *MemoryTemplateRepository) CreateTemplate(ctx context.Context, tmpl *models.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNameLocked(tmpl.Name, 0); err != nil {
		return err
	}
	tmpl.ID = r.nextID
	r.nextID++
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now().UTC()
	}
	tmpl.UpdatedAt = tmpl.CreatedAt

	r.templates[tmpl.ID] = tmpl.Clone()
	return nil
}

// UpdateTemplate replaces the stored template in place.
func (r *MemoryTemplateRepository) UpdateTemplate(ctx context.Context, tmpl *models.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.templates[tmpl.ID]
	if !ok {
		return apperrors.NotFound("template", tmpl.ID)
	}
	if err := r.checkNameLocked(tmpl.Name, tmpl.ID); err != nil {
		return err
	}
	tmpl.CreatedAt = existing.CreatedAt
	tmpl.CreatedBy = existing.CreatedBy
	if tmpl.UpdatedAt.IsZero() {
		tmpl.UpdatedAt = time.Now().UTC()
	}
	r.templates[tmpl.ID] = tmpl.Clone()
	return nil
}

func (r *MemoryTemplateRepository) checkNameLocked(name string, self int64) error {
	for id, t := range r.templates {
		if id != self && t.Name == name {
			return apperrors.Validation("template", self, "name %q already exists", name)
		}
	}
	return nil
}

// GetTemplate returns a copy of the template.
func (r *MemoryTemplateRepository) GetTemplate(ctx context.Context, id int64) (*models.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, ok := r.templates[id]
	if !ok {
		return nil, apperrors.NotFound("template", id)
	}
	return tmpl.Clone(), nil
}

// ListTemplates returns every template sorted by name.
func (r *MemoryTemplateRepository) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteTemplate removes a template no ticket references.
func (r *MemoryTemplateRepository) DeleteTemplate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[id]; !ok {
		return apperrors.NotFound("template", id)
	}
	if r.inUse != nil {
		n, err := r.inUse(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.Integrity("template", id, "referenced by %d ticket(s)", n)
		}
	}
	delete(r.templates, id)
	return nil
}

package templates

import (
	"context"

	"go.uber.org/zap"

	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/workflow"
)

// Store is the part of the template service the importer drives.
type Store interface {
	ListTemplates(ctx context.Context, actor int64) ([]*models.Template, error)
	CreateTemplate(ctx context.Context, actor int64, tmpl *models.Template) error
	UpdateTemplate(ctx context.Context, actor int64, tmpl *models.Template) error
}

// Result lists template names by what the import did with them.
type Result struct {
	Created   []string
	Updated   []string
	Unchanged []string
}

// Importer creates or updates templates matched by name.
type Importer struct {
	store  Store
	logger *zap.Logger
}

// NewImporter creates an importer.
func NewImporter(store Store, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, logger: logger}
}

// Import stores tmpls on behalf of actor. A template whose stored copy has
// the same definition is left alone. Import stops at the first failure;
// templates already written stay written.
func (im *Importer) Import(ctx context.Context, actor int64, tmpls []*models.Template) (*Result, error) {
	existing, err := im.store.ListTemplates(ctx, actor)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.Template, len(existing))
	for _, t := range existing {
		byName[t.Name] = t
	}

	res := &Result{}
	for _, tmpl := range tmpls {
		cur, ok := byName[tmpl.Name]
		if !ok {
			if err := im.store.CreateTemplate(ctx, actor, tmpl); err != nil {
				return res, err
			}
			res.Created = append(res.Created, tmpl.Name)
			im.logger.Info("template imported", zap.String("name", tmpl.Name), zap.Int64("template_id", tmpl.ID))
			continue
		}
		if same(cur, tmpl) {
			res.Unchanged = append(res.Unchanged, tmpl.Name)
			continue
		}
		tmpl.ID = cur.ID
		if err := im.store.UpdateTemplate(ctx, actor, tmpl); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, tmpl.Name)
		im.logger.Info("template re-imported", zap.String("name", tmpl.Name), zap.Int64("template_id", tmpl.ID))
	}
	return res, nil
}

func same(a, b *models.Template) bool {
	if a.Description != b.Description || a.TitleFormat != b.TitleFormat || a.DefaultPriority != b.DefaultPriority {
		return false
	}
	// Clone normalizes empty slices so both sides encode alike.
	va, errA := workflow.VersionTag(a.Clone())
	vb, errB := workflow.VersionTag(b.Clone())
	return errA == nil && errB == nil && va == vb
}

package service

import (
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// RenderTitle renders a template's title_format. The format sees:
//
//	template    name, description, default_priority
//	ticket      description, priority
//	creator_id  the creating user
//	created_at  creation time
func RenderTitle(tmpl *models.Template, t *models.Ticket, createdAt time.Time) (string, error) {
	if tmpl.TitleFormat == "" {
		return tmpl.Name, nil
	}
	tpl, err := pongo2.FromString(tmpl.TitleFormat)
	if err != nil {
		return "", apperrors.Validation("template", tmpl.ID, "title_format does not parse").Wrap(err)
	}
	out, err := tpl.Execute(pongo2.Context{
		"template": map[string]interface{}{
			"name":             tmpl.Name,
			"description":      tmpl.Description,
			"default_priority": tmpl.DefaultPriority,
		},
		"ticket": map[string]interface{}{
			"description": t.Description,
			"priority":    t.Priority,
		},
		"creator_id": t.CreatedBy,
		"created_at": createdAt,
	})
	if err != nil {
		return "", apperrors.Validation("template", tmpl.ID, "title_format failed to render").Wrap(err)
	}
	return strings.TrimSpace(out), nil
}

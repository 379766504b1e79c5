package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/auth"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/repository"
	"github.com/officeflow/officeflow/internal/workflow"
)

// TemplateService manages ticket templates. Changes to a template never
// reach existing tickets: they run on the snapshot taken at creation.
type TemplateService struct {
	templates repository.TemplateRepository
	tickets   repository.TicketRepository
	resolver  *auth.Resolver
	logger    *zap.Logger
	now       func() time.Time
}

// NewTemplateService creates a template service.
func NewTemplateService(templates repository.TemplateRepository, tickets repository.TicketRepository, resolver *auth.Resolver, logger *zap.Logger) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{
		templates: templates,
		tickets:   tickets,
		resolver:  resolver,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTemplate validates and stores a new template.
func (s *TemplateService) CreateTemplate(ctx context.Context, actor int64, tmpl *models.Template) error {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTemplateCreate); err != nil {
		return err
	}
	if tmpl.WorkflowConfig == nil {
		cfg := models.DefaultWorkflowConfig()
		tmpl.WorkflowConfig = &cfg
	}
	if err := tmpl.Validate(); err != nil {
		return err
	}
	now := s.now()
	tmpl.CreatedBy = actor
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if err := s.templates.CreateTemplate(ctx, tmpl); err != nil {
		return err
	}
	s.logger.Info("template created",
		zap.Int64("template_id", tmpl.ID),
		zap.String("name", tmpl.Name),
		zap.String("version", versionOf(tmpl)),
		zap.Int("steps", len(tmpl.Workflow)))
	return nil
}

// UpdateTemplate replaces a template definition.
func (s *TemplateService) UpdateTemplate(ctx context.Context, actor int64, tmpl *models.Template) error {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTemplateUpdate); err != nil {
		return err
	}
	current, err := s.templates.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		return err
	}
	if tmpl.WorkflowConfig == nil {
		cfg := models.DefaultWorkflowConfig()
		tmpl.WorkflowConfig = &cfg
	}
	if err := tmpl.Validate(); err != nil {
		return err
	}
	tmpl.CreatedBy = current.CreatedBy
	tmpl.CreatedAt = current.CreatedAt
	tmpl.UpdatedAt = s.now()
	if err := s.templates.UpdateTemplate(ctx, tmpl); err != nil {
		return err
	}
	s.logger.Info("template updated",
		zap.Int64("template_id", tmpl.ID),
		zap.String("previous_version", versionOf(current)),
		zap.String("version", versionOf(tmpl)))
	return nil
}

// GetTemplate returns a template.
func (s *TemplateService) GetTemplate(ctx context.Context, actor, id int64) (*models.Template, error) {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTemplateRead); err != nil {
		return nil, err
	}
	return s.templates.GetTemplate(ctx, id)
}

// ListTemplates returns every template.
func (s *TemplateService) ListTemplates(ctx context.Context, actor int64) ([]*models.Template, error) {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTemplateRead); err != nil {
		return nil, err
	}
	return s.templates.ListTemplates(ctx)
}

// DeleteTemplate removes a template no ticket references.
func (s *TemplateService) DeleteTemplate(ctx context.Context, actor, id int64) error {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTemplateDelete); err != nil {
		return err
	}
	n, err := s.tickets.CountByTemplate(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperrors.Integrity("template", id, "referenced by %d tickets", n)
	}
	return s.templates.DeleteTemplate(ctx, id)
}

func versionOf(tmpl *models.Template) string {
	v, err := workflow.VersionTag(tmpl)
	if err != nil {
		return ""
	}
	return v
}

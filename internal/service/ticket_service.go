// Package service holds the use cases: each authorizes the caller, then
// reads, changes and persists the ticket aggregate.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/auth"
	"github.com/officeflow/officeflow/internal/locking"
	"github.com/officeflow/officeflow/internal/metrics"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/notifications"
	"github.com/officeflow/officeflow/internal/repository"
	"github.com/officeflow/officeflow/internal/workflow"
)

// CreateTicketRequest carries the caller-supplied fields of a new ticket.
// Empty Title and Priority fall back to the template.
type CreateTicketRequest struct {
	TemplateID  int64
	Title       string
	Description string
	Priority    string
}

// UpdateTicketRequest changes ticket fields outside the workflow. Nil
// fields are left alone.
type UpdateTicketRequest struct {
	Title       *string
	Description *string
	Priority    *string
}

// TicketServiceConfig wires a TicketService.
type TicketServiceConfig struct {
	Tickets    repository.TicketRepository
	Templates  repository.TemplateRepository
	Resolver   *auth.Resolver
	Engine     *workflow.Engine
	Locker     locking.Locker
	Dispatcher *notifications.Dispatcher
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
	// SyncStatus moves the ticket status along with its steps.
	SyncStatus bool
	Clock      func() time.Time
}

// TicketService runs ticket and step use cases.
type TicketService struct {
	tickets    repository.TicketRepository
	templates  repository.TemplateRepository
	resolver   *auth.Resolver
	engine     *workflow.Engine
	locker     locking.Locker
	dispatcher *notifications.Dispatcher
	metrics    *metrics.Recorder
	logger     *zap.Logger
	sanitizer  *bluemonday.Policy
	syncStatus bool
	now        func() time.Time
}

// NewTicketService creates a service. Missing optional collaborators get
// in-process defaults.
func NewTicketService(cfg TicketServiceConfig) *TicketService {
	s := &TicketService{
		tickets:    cfg.Tickets,
		templates:  cfg.Templates,
		resolver:   cfg.Resolver,
		engine:     cfg.Engine,
		locker:     cfg.Locker,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		sanitizer:  bluemonday.StrictPolicy(),
		syncStatus: cfg.SyncStatus,
		now:        cfg.Clock,
	}
	if s.engine == nil {
		s.engine = workflow.NewEngine(workflow.SingleCandidateAssigner{Holders: cfg.Resolver}, workflow.Options{})
	}
	if s.locker == nil {
		s.locker = locking.NewLocalLocker()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// CreateTicket instantiates the template's workflow into a new ticket.
func (s *TicketService) CreateTicket(ctx context.Context, actor int64, req CreateTicketRequest) (_ *models.Ticket, err error) {
	defer s.track("create_ticket", s.now())(&err)

	if err := s.resolver.Require(ctx, actor, auth.PermissionTicketCreate); err != nil {
		return nil, err
	}
	tmpl, err := s.templates.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	state, err := workflow.Instantiate(tmpl, now)
	if err != nil {
		return nil, err
	}
	t := &models.Ticket{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      models.TicketOpened,
		Priority:    req.Priority,
		CreatedBy:   actor,
		TemplateID:  tmpl.ID,
		Workflow:    state,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Priority == "" {
		t.Priority = tmpl.DefaultPriority
	}
	if t.Title == "" {
		if t.Title, err = RenderTitle(tmpl, t, now); err != nil {
			return nil, err
		}
	}
	if t.Title == "" {
		return nil, apperrors.Validation("ticket", nil, "title is required")
	}

	if err := s.tickets.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	s.metrics.TicketCreated()
	s.logger.Info("ticket created",
		zap.Int64("ticket_id", t.ID),
		zap.Int64("template_id", tmpl.ID),
		zap.String("template_version", state.Metadata.TemplateVersion),
		zap.Int64("actor", actor))

	events := []workflow.StepEvent{{Event: models.EventTicketCreated}}
	for _, def := range state.Metadata.StepDefinitions {
		if state.Steps[def.ID].Status == models.StepInProgress {
			events = append(events, workflow.StepEvent{Event: models.EventStepStarted, StepID: def.ID, Automatic: true})
		}
	}
	s.notify(ctx, t, actor, now, events)
	return t, nil
}

// GetTicket returns a ticket the caller may read.
func (s *TicketService) GetTicket(ctx context.Context, actor, ticketID int64) (*models.Ticket, error) {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTicketRead); err != nil {
		return nil, err
	}
	return s.tickets.GetTicket(ctx, ticketID)
}

// ListTickets returns tickets newest first.
func (s *TicketService) ListTickets(ctx context.Context, actor int64, filter repository.TicketFilter) ([]*models.Ticket, error) {
	if err := s.resolver.Require(ctx, actor, auth.PermissionTicketRead); err != nil {
		return nil, err
	}
	return s.tickets.ListTickets(ctx, filter)
}

// AdvanceStep moves a step to a new status.
func (s *TicketService) AdvanceStep(ctx context.Context, actor, ticketID int64, stepID string, to models.StepStatus) (*models.Ticket, error) {
	return s.mutate(ctx, "advance_step", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		return s.engine.AdvanceStep(ctx, t.Workflow, stepID, to, actor, now)
	})
}

// SubmitStep merges form data into an in_progress step and completes it.
func (s *TicketService) SubmitStep(ctx context.Context, actor, ticketID int64, stepID string, data map[string]interface{}) (*models.Ticket, error) {
	return s.mutate(ctx, "submit_step", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		return s.engine.SubmitStep(ctx, t.Workflow, stepID, data, actor, now)
	})
}

// SaveStepForm stores a draft of a step form.
func (s *TicketService) SaveStepForm(ctx context.Context, actor, ticketID int64, stepID string, data map[string]interface{}) (*models.Ticket, error) {
	return s.mutate(ctx, "save_step_form", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		return s.engine.SaveForm(t.Workflow, stepID, data, actor, now)
	})
}

// AssignStep assigns a step to a user holding one of its assignable roles.
func (s *TicketService) AssignStep(ctx context.Context, actor, ticketID int64, stepID string, assignee int64) (*models.Ticket, error) {
	return s.mutate(ctx, "assign_step", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		if err := s.checkCandidate(ctx, t, stepID, assignee); err != nil {
			return nil, err
		}
		return s.engine.AssignStep(t.Workflow, stepID, assignee, actor, now)
	})
}

// ClaimStep assigns a step to the caller.
func (s *TicketService) ClaimStep(ctx context.Context, actor, ticketID int64, stepID string) (*models.Ticket, error) {
	return s.AssignStep(ctx, actor, ticketID, stepID, actor)
}

// CommentStep appends a comment to a step history. Markup is stripped.
func (s *TicketService) CommentStep(ctx context.Context, actor, ticketID int64, stepID, content string) (*models.Ticket, error) {
	clean := strings.TrimSpace(s.sanitizer.Sanitize(content))
	return s.mutate(ctx, "comment_step", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		return s.engine.Comment(t.Workflow, stepID, clean, actor, now)
	})
}

// SetStatus moves the ticket-level status.
func (s *TicketService) SetStatus(ctx context.Context, actor, ticketID int64, to models.TicketStatus) (*models.Ticket, error) {
	return s.mutate(ctx, "set_status", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		if err := workflow.TransitionTicket(t, to, now); err != nil {
			return nil, err
		}
		ev := models.EventTicketUpdated
		if to == models.TicketCompleted {
			ev = models.EventTicketCompleted
		}
		return &workflow.Outcome{Events: []workflow.StepEvent{{Event: ev}}}, nil
	})
}

// UpdateTicket edits title, description or priority.
func (s *TicketService) UpdateTicket(ctx context.Context, actor, ticketID int64, req UpdateTicketRequest) (*models.Ticket, error) {
	return s.mutate(ctx, "update_ticket", actor, ticketID, func(t *models.Ticket, now time.Time) (*workflow.Outcome, error) {
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return nil, apperrors.Validation("ticket", t.ID, "title is required")
			}
			t.Title = title
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.Priority != nil {
			t.Priority = *req.Priority
		}
		return &workflow.Outcome{Events: []workflow.StepEvent{{Event: models.EventTicketUpdated}}}, nil
	})
}

// DeleteTicket removes a ticket. Tickets with history are kept unless purge
// is set; a purge is logged as an audit record.
func (s *TicketService) DeleteTicket(ctx context.Context, actor, ticketID int64, purge bool) (err error) {
	defer s.track("delete_ticket", s.now())(&err)

	if err := s.resolver.Require(ctx, actor, auth.PermissionTicketDelete); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, ticketID)
	if err != nil {
		return err
	}
	defer s.unlock(ticketID, unlock)

	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.HasHistory() {
		if !purge {
			return apperrors.Validation("ticket", ticketID, "ticket has workflow history; pass purge to delete it")
		}
		completed, total := 0, 0
		if t.Workflow != nil {
			completed, total = t.Workflow.Progress()
		}
		s.logger.Warn("ticket purged with history",
			zap.Int64("ticket_id", ticketID),
			zap.Int64("actor", actor),
			zap.String("status", string(t.Status)),
			zap.Int("steps_completed", completed),
			zap.Int("steps_total", total))
	}
	return s.tickets.DeleteTicket(ctx, ticketID)
}

type mutation func(t *models.Ticket, now time.Time) (*workflow.Outcome, error)

// mutate serializes a change to one ticket: lock, load, apply, save with a
// version check, then notify.
func (s *TicketService) mutate(ctx context.Context, op string, actor, ticketID int64, fn mutation) (_ *models.Ticket, err error) {
	defer s.track(op, s.now())(&err)

	if err := s.resolver.Require(ctx, actor, auth.PermissionTicketUpdate); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ticketID, unlock)

	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTemplate(ctx, t); err != nil {
		return nil, err
	}

	now := s.now()
	out, err := fn(t, now)
	if err != nil {
		return nil, err
	}
	before := t.Status
	if s.syncStatus && touchesSteps(out) && workflow.SyncStatus(t, now) {
		ev := models.EventTicketUpdated
		if t.Status == models.TicketCompleted {
			ev = models.EventTicketCompleted
		}
		out.Events = append(out.Events, workflow.StepEvent{Event: ev})
	}
	t.UpdatedAt = now
	if err := s.tickets.UpdateTicket(ctx, t); err != nil {
		return nil, err
	}

	for _, ev := range out.Events {
		if ev.StepID == "" {
			continue
		}
		switch ev.Event {
		case models.EventStepStarted:
			s.metrics.Transition(string(models.StepInProgress), ev.Automatic)
		case models.EventStepCompleted:
			s.metrics.Transition(string(models.StepCompleted), false)
		case models.EventStepSkipped:
			s.metrics.Transition(string(models.StepRejected), false)
		}
	}
	s.logger.Info("ticket updated",
		zap.String("op", op),
		zap.Int64("ticket_id", t.ID),
		zap.Int64("actor", actor),
		zap.String("status_before", string(before)),
		zap.String("status", string(t.Status)),
		zap.Int64("version", t.Version))
	s.notify(ctx, t, actor, now, out.Events)
	return t, nil
}

// requireTemplate checks the ticket still has workflow state and that its
// template exists.
func (s *TicketService) requireTemplate(ctx context.Context, t *models.Ticket) error {
	if t.Workflow == nil {
		return apperrors.Integrity("ticket", t.ID, "ticket has no workflow state")
	}
	if _, err := s.templates.GetTemplate(ctx, t.TemplateID); err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.Integrity("ticket", t.ID, "template %d is missing", t.TemplateID).Wrap(err)
		}
		return err
	}
	return nil
}

func (s *TicketService) checkCandidate(ctx context.Context, t *models.Ticket, stepID string, assignee int64) error {
	def, ok := t.Workflow.Definition(stepID)
	if !ok {
		return apperrors.NotFound("step", stepID)
	}
	holders, err := s.resolver.Holders(ctx, def.AssignableRoles...)
	if err != nil {
		return err
	}
	i := sort.Search(len(holders), func(i int) bool { return holders[i] >= assignee })
	if i == len(holders) || holders[i] != assignee {
		return apperrors.Validation("step", stepID, "user %d holds none of the roles %s",
			assignee, strings.Join(def.AssignableRoles, ", "))
	}
	return nil
}

func (s *TicketService) lock(ctx context.Context, ticketID int64) (locking.Unlock, error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, ticketID)
	s.metrics.LockWait(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("lock ticket %d: %w", ticketID, err)
	}
	return unlock, nil
}

func (s *TicketService) unlock(ticketID int64, unlock locking.Unlock) {
	if err := unlock(); err != nil {
		s.logger.Warn("release ticket lock", zap.Int64("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) notify(ctx context.Context, t *models.Ticket, actor int64, at time.Time, events []workflow.StepEvent) {
	if s.dispatcher == nil || t.Workflow == nil {
		return
	}
	rules := t.Workflow.Metadata.WorkflowConfig.NotificationRules
	for _, ev := range events {
		s.dispatcher.Dispatch(ctx, rules, notifications.Trigger{
			Event:       ev.Event,
			TicketID:    t.ID,
			TicketTitle: t.Title,
			StepID:      ev.StepID,
			AssigneeID:  ev.AssigneeID,
			ActorID:     actor,
			At:          at,
		})
	}
}

// track records duration and the error kind of a failed operation.
func (s *TicketService) track(op string, start time.Time) func(*error) {
	return func(errp *error) {
		s.metrics.Observe(op, start)
		if *errp != nil {
			s.metrics.Failure(op, kindLabel(*errp))
			s.logger.Debug("operation failed", zap.String("op", op), zap.Error(*errp))
		}
	}
}

func touchesSteps(out *workflow.Outcome) bool {
	for _, ev := range out.Events {
		if ev.StepID != "" {
			return true
		}
	}
	return false
}

func kindLabel(err error) string {
	if k := apperrors.KindOf(err); k != "" {
		return string(k)
	}
	return "INTERNAL"
}

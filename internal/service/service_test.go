package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

const (
	admin    int64 = 1
	employee int64 = 2
	manager  int64 = 3
	viewer   int64 = 4
)

type fixture struct {
	ctx       context.Context
	tickets   *repository.MemoryTicketRepository
	templates *repository.MemoryTemplateRepository
	roles     *repository.MemoryRoleRepository
	inbox     *notifications.MemoryNotifier
	svc       *TicketService
	tmplSvc   *TemplateService
	roleSvc   *RoleService
	tmpl      *models.Template
}

// steppingClock returns a clock advancing one minute per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

func leaveTemplate() *models.Template {
	return &models.Template{
		Name:            "Leave request",
		TitleFormat:     "{{ template.name }} by user {{ creator_id }}",
		DefaultPriority: "normal",
		Workflow: []models.StepDefinition{
			{
				ID: "apply", Name: "Apply", AssignableRoles: []string{"employee"},
				Form: []models.FieldDefinition{{ID: "days", Name: "days", Label: "Days", Type: models.FieldNumber, Required: true}},
			},
			{ID: "approve", Name: "Approve", AssignableRoles: []string{"manager"}, Dependencies: []string{"apply"}},
		},
		WorkflowConfig: &models.WorkflowConfig{
			AutoAssignment: true,
			NotificationRules: []models.NotificationRule{
				{Event: models.EventStepStarted, NotifyRoles: []string{"manager"}, Channels: []string{models.ChannelEmail}},
				{Event: models.EventTicketCompleted, NotifyRoles: []string{"employee"}, Channels: []string{models.ChannelEmail}},
			},
		},
	}
}

func newFixture(t *testing.T, syncStatus bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		ctx:     ctx,
		tickets: repository.NewMemoryTicketRepository(),
		roles:   repository.NewMemoryRoleRepository(),
		inbox:   notifications.NewMemoryNotifier(),
	}
	f.templates = repository.NewMemoryTemplateRepository(f.tickets)
	resolver := auth.NewResolver(f.roles)
	logger := zap.NewNop()

	f.roleSvc = NewRoleService(f.roles, resolver, logger)
	created, err := f.roleSvc.Bootstrap(ctx, admin)
	require.NoError(t, err)
	require.True(t, created)

	for _, r := range []struct {
		name  string
		perms []string
		user  int64
	}{
		{"employee", []string{auth.PermissionTicketCreate, auth.PermissionTicketRead, auth.PermissionTicketUpdate}, employee},
		{"manager", []string{auth.PermissionTicketRead, auth.PermissionTicketUpdate}, manager},
		{"viewer", []string{auth.PermissionTicketRead}, viewer},
	} {
		require.NoError(t, f.roleSvc.CreateRole(ctx, admin, &models.Role{Name: r.name, Permissions: r.perms}))
		require.NoError(t, f.roleSvc.GrantRole(ctx, admin, r.user, r.name, nil))
	}

	f.tmplSvc = NewTemplateService(f.templates, f.tickets, resolver, logger)
	f.tmpl = leaveTemplate()
	require.NoError(t, f.tmplSvc.CreateTemplate(ctx, admin, f.tmpl))

	dispatcher := notifications.NewDispatcher(resolver, nil, logger)
	dispatcher.Register(models.ChannelEmail, f.inbox)

	f.svc = NewTicketService(TicketServiceConfig{
		Tickets:    f.tickets,
		Templates:  f.templates,
		Resolver:   resolver,
		Engine:     workflow.NewEngine(workflow.SingleCandidateAssigner{Holders: resolver}, workflow.Options{}),
		Locker:     locking.NewLocalLocker(),
		Dispatcher: dispatcher,
		Metrics:    metrics.NewNop(),
		Logger:     logger,
		SyncStatus: syncStatus,
		Clock:      steppingClock(),
	})
	return f
}

func (f *fixture) create(t *testing.T) *models.Ticket {
	t.Helper()
	tk, err := f.svc.CreateTicket(f.ctx, employee, CreateTicketRequest{TemplateID: f.tmpl.ID})
	require.NoError(t, err)
	return tk
}

func TestCreateTicket(t *testing.T) {
	f := newFixture(t, true)

	tk := f.create(t)
	assert.Equal(t, "Leave request by user 2", tk.Title)
	assert.Equal(t, "normal", tk.Priority)
	assert.Equal(t, models.TicketOpened, tk.Status)
	assert.Equal(t, int64(1), tk.Version)
	assert.Equal(t, models.StepInProgress, tk.Workflow.Steps["apply"].Status)
	assert.Equal(t, models.StepPending, tk.Workflow.Steps["approve"].Status)
	assert.False(t, tk.HasHistory())

	// step_started for "apply" reaches the manager role.
	got := f.inbox.Consume(manager)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventStepStarted, got[0].Event)
	assert.Equal(t, "apply", got[0].StepID)

	explicit, err := f.svc.CreateTicket(f.ctx, employee, CreateTicketRequest{TemplateID: f.tmpl.ID, Title: "  Trip  ", Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "Trip", explicit.Title)
	assert.Equal(t, "high", explicit.Priority)
}

func TestCreateTicketErrors(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.CreateTicket(f.ctx, viewer, CreateTicketRequest{TemplateID: f.tmpl.ID})
	assert.True(t, apperrors.IsPermissionDenied(err))

	_, err = f.svc.CreateTicket(f.ctx, 99, CreateTicketRequest{TemplateID: f.tmpl.ID})
	assert.True(t, apperrors.IsPermissionDenied(err), "users without roles hold no permissions")

	_, err = f.svc.CreateTicket(f.ctx, employee, CreateTicketRequest{TemplateID: 404})
	assert.True(t, apperrors.IsNotFound(err))

	list, err := f.svc.ListTickets(f.ctx, viewer, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWorkflowRunsToCompletion(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)
	f.inbox.Consume(manager)

	_, err := f.svc.SubmitStep(f.ctx, employee, tk.ID, "apply", map[string]interface{}{})
	assert.True(t, apperrors.IsValidation(err), "required field missing")

	tk, err = f.svc.SubmitStep(f.ctx, employee, tk.ID, "apply", map[string]interface{}{"days": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, tk.Workflow.Steps["apply"].Status)
	assert.Equal(t, models.StepInProgress, tk.Workflow.Steps["approve"].Status)
	require.NotNil(t, tk.Workflow.Steps["approve"].AssigneeID, "single manager is auto-assigned")
	assert.Equal(t, manager, *tk.Workflow.Steps["approve"].AssigneeID)
	assert.Equal(t, models.TicketInProgress, tk.Status)
	assert.Equal(t, int64(2), tk.Version)

	started := f.inbox.Consume(manager)
	require.Len(t, started, 1)
	assert.Equal(t, "approve", started[0].StepID)

	tk, err = f.svc.AdvanceStep(f.ctx, manager, tk.ID, "approve", models.StepCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCompleted, tk.Status)
	assert.True(t, tk.Workflow.AllCompleted())

	done := f.inbox.Consume(employee)
	require.Len(t, done, 1)
	assert.Equal(t, models.EventTicketCompleted, done[0].Event)

	stored, err := f.svc.GetTicket(f.ctx, viewer, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Version, stored.Version)
	assert.Equal(t, models.TicketCompleted, stored.Status)
}

func TestAdvanceStepFailureLeavesTicketUnchanged(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)
	before, err := f.tickets.GetTicket(f.ctx, tk.ID)
	require.NoError(t, err)

	_, err = f.svc.AdvanceStep(f.ctx, manager, tk.ID, "approve", models.StepInProgress)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	after, err := f.tickets.GetTicket(f.ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Workflow, after.Workflow)

	_, err = f.svc.AdvanceStep(f.ctx, viewer, tk.ID, "apply", models.StepCompleted)
	assert.True(t, apperrors.IsPermissionDenied(err))

	_, err = f.svc.AdvanceStep(f.ctx, employee, 777, "apply", models.StepCompleted)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.AdvanceStep(f.ctx, employee, tk.ID, "nope", models.StepCompleted)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSyncStatusDisabled(t *testing.T) {
	f := newFixture(t, false)
	tk := f.create(t)

	tk, err := f.svc.SubmitStep(f.ctx, employee, tk.ID, "apply", map[string]interface{}{"days": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, models.TicketOpened, tk.Status)

	tk, err = f.svc.SetStatus(f.ctx, employee, tk.ID, models.TicketInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInProgress, tk.Status)

	_, err = f.svc.SetStatus(f.ctx, employee, tk.ID, models.TicketOpened)
	assert.True(t, apperrors.IsValidation(err))
}

func TestAssignAndClaimStep(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	_, err := f.svc.AssignStep(f.ctx, employee, tk.ID, "apply", manager)
	assert.True(t, apperrors.IsValidation(err), "manager does not hold the employee role")

	tk, err = f.svc.ClaimStep(f.ctx, employee, tk.ID, "apply")
	require.NoError(t, err)
	require.NotNil(t, tk.Workflow.Steps["apply"].AssigneeID)
	assert.Equal(t, employee, *tk.Workflow.Steps["apply"].AssigneeID)

	last := tk.Workflow.Steps["apply"].History[len(tk.Workflow.Steps["apply"].History)-1]
	assert.Equal(t, models.HistoryAssigned, last.Type)
	assert.True(t, tk.HasHistory())
}

func TestCommentStepSanitizes(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	tk, err := f.svc.CommentStep(f.ctx, manager, tk.ID, "apply", `<b>ok</b><script>alert(1)</script>`)
	require.NoError(t, err)
	h := tk.Workflow.Steps["apply"].History
	last := h[len(h)-1]
	assert.Equal(t, models.HistoryComment, last.Type)
	assert.Equal(t, "ok", last.Content)

	_, err = f.svc.CommentStep(f.ctx, manager, tk.ID, "apply", "<script>x</script>")
	assert.True(t, apperrors.IsValidation(err))
}

func TestSaveStepForm(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	tk, err := f.svc.SaveStepForm(f.ctx, employee, tk.ID, "apply", map[string]interface{}{"days": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, models.StepInProgress, tk.Workflow.Steps["apply"].Status)
	assert.Equal(t, float64(2), tk.Workflow.Steps["apply"].FormData["days"])

	tk, err = f.svc.SubmitStep(f.ctx, employee, tk.ID, "apply", nil)
	require.NoError(t, err, "draft satisfies the required field")
	assert.Equal(t, models.StepCompleted, tk.Workflow.Steps["apply"].Status)
}

func TestUpdateTicket(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	title, prio := "Summer leave", "low"
	tk, err := f.svc.UpdateTicket(f.ctx, employee, tk.ID, UpdateTicketRequest{Title: &title, Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, "Summer leave", tk.Title)
	assert.Equal(t, "low", tk.Priority)
	assert.Equal(t, models.TicketOpened, tk.Status)

	blank := "  "
	_, err = f.svc.UpdateTicket(f.ctx, employee, tk.ID, UpdateTicketRequest{Title: &blank})
	assert.True(t, apperrors.IsValidation(err))
}

func TestDeleteTicket(t *testing.T) {
	f := newFixture(t, true)
	fresh := f.create(t)

	err := f.svc.DeleteTicket(f.ctx, employee, fresh.ID, false)
	assert.True(t, apperrors.IsPermissionDenied(err))

	require.NoError(t, f.svc.DeleteTicket(f.ctx, admin, fresh.ID, false))
	_, err = f.tickets.GetTicket(f.ctx, fresh.ID)
	assert.True(t, apperrors.IsNotFound(err))

	worked := f.create(t)
	_, err = f.svc.CommentStep(f.ctx, employee, worked.ID, "apply", "started")
	require.NoError(t, err)

	err = f.svc.DeleteTicket(f.ctx, admin, worked.ID, false)
	assert.True(t, apperrors.IsValidation(err))
	require.NoError(t, f.svc.DeleteTicket(f.ctx, admin, worked.ID, true))
}

func TestMissingTemplateIsIntegrityError(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	orphan := tk.Clone()
	orphan.TemplateID = 404
	require.NoError(t, f.tickets.UpdateTicket(f.ctx, orphan))

	_, err := f.svc.AdvanceStep(f.ctx, employee, tk.ID, "apply", models.StepCompleted)
	assert.True(t, apperrors.IsIntegrity(err))
	assert.False(t, apperrors.IsNotFound(err), "the ticket itself exists")
}

func TestTemplateChangesDoNotReachExistingTickets(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	changed := leaveTemplate()
	changed.ID = f.tmpl.ID
	changed.Workflow[0].Form = nil
	require.NoError(t, f.tmplSvc.UpdateTemplate(f.ctx, admin, changed))

	_, err := f.svc.SubmitStep(f.ctx, employee, tk.ID, "apply", nil)
	assert.True(t, apperrors.IsValidation(err), "frozen form still requires days")

	other := f.create(t)
	_, err = f.svc.SubmitStep(f.ctx, employee, other.ID, "apply", nil)
	require.NoError(t, err)
	assert.NotEqual(t, tk.Workflow.Metadata.TemplateVersion, other.Workflow.Metadata.TemplateVersion)
}

func TestConcurrentAdvancesSerialize(t *testing.T) {
	f := newFixture(t, true)
	tk := f.create(t)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitStep(f.ctx, employee, tk.ID, "apply", map[string]interface{}{"days": float64(i + 1)})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, apperrors.IsValidation(err), "later submits see a completed step: %v", err)
	}
	assert.Equal(t, 1, ok)

	stored, err := f.tickets.GetTicket(f.ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestTemplateService(t *testing.T) {
	f := newFixture(t, true)

	list, err := f.tmplSvc.ListTemplates(f.ctx, admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = f.tmplSvc.CreateTemplate(f.ctx, employee, leaveTemplate())
	assert.True(t, apperrors.IsPermissionDenied(err))

	bad := leaveTemplate()
	bad.Name = "Broken"
	bad.Workflow[1].Dependencies = []string{"missing"}
	assert.True(t, apperrors.IsValidation(f.tmplSvc.CreateTemplate(f.ctx, admin, bad)))

	plain := leaveTemplate()
	plain.Name = "Plain"
	plain.WorkflowConfig = nil
	require.NoError(t, f.tmplSvc.CreateTemplate(f.ctx, admin, plain))
	require.NotNil(t, plain.WorkflowConfig)
	assert.Equal(t, admin, plain.CreatedBy)

	f.create(t)
	err = f.tmplSvc.DeleteTemplate(f.ctx, admin, f.tmpl.ID)
	assert.True(t, apperrors.IsIntegrity(err))
	require.NoError(t, f.tmplSvc.DeleteTemplate(f.ctx, admin, plain.ID))

	_, err = f.tmplSvc.GetTemplate(f.ctx, admin, plain.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRoleService(t *testing.T) {
	f := newFixture(t, true)

	again, err := f.roleSvc.Bootstrap(f.ctx, 50)
	require.NoError(t, err)
	assert.False(t, again)

	perms, err := f.roleSvc.Permissions(f.ctx, viewer)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.PermissionTicketRead}, perms)

	err = f.roleSvc.CreateRole(f.ctx, employee, &models.Role{Name: "x"})
	assert.True(t, apperrors.IsPermissionDenied(err))
	assert.True(t, apperrors.IsValidation(f.roleSvc.CreateRole(f.ctx, admin, &models.Role{Name: " "})))

	boss := manager
	require.NoError(t, f.roleSvc.GrantRole(f.ctx, admin, 10, "employee", &boss))
	sup, err := f.roleSvc.Supervisor(f.ctx, admin, 10, "employee")
	require.NoError(t, err)
	require.NotNil(t, sup)
	assert.Equal(t, manager, *sup)

	self := int64(11)
	assert.True(t, apperrors.IsValidation(f.roleSvc.GrantRole(f.ctx, admin, 11, "employee", &self)))
	assert.True(t, apperrors.IsNotFound(f.roleSvc.GrantRole(f.ctx, admin, 11, "ghost", nil)))

	require.NoError(t, f.roleSvc.RevokeRole(f.ctx, admin, 10, "employee"))
	perms, err = f.roleSvc.Permissions(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestRenderTitle(t *testing.T) {
	tk := &models.Ticket{CreatedBy: 5, Priority: "high"}
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	title, err := RenderTitle(&models.Template{Name: "Expense"}, tk, at)
	require.NoError(t, err)
	assert.Equal(t, "Expense", title)

	title, err = RenderTitle(&models.Template{Name: "Expense", TitleFormat: "{{ template.name }} ({{ ticket.priority }}) {{ created_at|date:\"2006-01-02\" }}"}, tk, at)
	require.NoError(t, err)
	assert.Equal(t, "Expense (high) 2026-01-02", title)

	_, err = RenderTitle(&models.Template{Name: "x", TitleFormat: "{% if %}"}, tk, at)
	assert.True(t, apperrors.IsValidation(err))
}

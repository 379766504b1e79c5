package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// StepEvent is a change the engine applied, reported so callers can notify.
type StepEvent struct {
	Event      string // one of the models.Event* names
	StepID     string
	AssigneeID *int64
	Automatic  bool
}

// Outcome lists what a single engine call changed.
type Outcome struct {
	Events []StepEvent
}

func (o *Outcome) add(ev StepEvent) { o.Events = append(o.Events, ev) }

// Options tunes engine behavior.
type Options struct {
	// StrictClock rejects timestamps older than the newest history entry
	// instead of clamping them forward.
	StrictClock bool
}

// Engine applies status changes, assignments and form updates to workflow
// state. Every method validates before mutating: on error the state passed
// in is left untouched.
type Engine struct {
	assigner Assigner
	opts     Options
}

// NewEngine creates an engine. A nil assigner means manual assignment.
func NewEngine(assigner Assigner, opts Options) *Engine {
	if assigner == nil {
		assigner = ManualAssigner{}
	}
	return &Engine{assigner: assigner, opts: opts}
}

// legal lists the step transitions accepted by AdvanceStep.
var legal = map[models.StepStatus][]models.StepStatus{
	models.StepPending:    {models.StepInProgress},
	models.StepInProgress: {models.StepCompleted, models.StepRejected},
	models.StepRejected:   {models.StepInProgress},
}

func isLegal(from, to models.StepStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AdvanceStep moves stepID to status to. Entering in_progress requires every
// dependency to be completed. Completing a step auto-starts the steps it
// unblocks: the next eligible step in template order under sequential
// execution, every eligible step under parallel execution.
func (e *Engine) AdvanceStep(ctx context.Context, w *models.WorkflowState, stepID string, to models.StepStatus, actor int64, ts time.Time) (*Outcome, error) {
	return e.mutate(w, func(work *models.WorkflowState, out *Outcome) error {
		return e.advance(ctx, work, out, stepID, to, actor, ts, nil)
	})
}

// SubmitStep merges data into the form of an in_progress step and completes
// it in one atomic change. The merged form must satisfy the frozen schema.
func (e *Engine) SubmitStep(ctx context.Context, w *models.WorkflowState, stepID string, data map[string]interface{}, actor int64, ts time.Time) (*Outcome, error) {
	return e.mutate(w, func(work *models.WorkflowState, out *Outcome) error {
		return e.advance(ctx, work, out, stepID, models.StepCompleted, actor, ts, data)
	})
}

// SaveForm stores a draft of the step form without changing its status.
func (e *Engine) SaveForm(w *models.WorkflowState, stepID string, data map[string]interface{}, actor int64, ts time.Time) (*Outcome, error) {
	return e.mutate(w, func(work *models.WorkflowState, out *Outcome) error {
		step, err := work.Step(stepID)
		if err != nil {
			return err
		}
		if step.Status != models.StepInProgress {
			return apperrors.Validation("step", stepID, "form can only be saved while in_progress, step is %s", step.Status)
		}
		merged := mergeForm(step.FormData, data)
		if err := ValidateFormData(stepID, work.Metadata.FormDefinitions[stepID], merged, false); err != nil {
			return err
		}
		ts, err = e.stamp(work, ts)
		if err != nil {
			return err
		}
		step.FormData = merged
		step.Append(models.HistoryEntry{Timestamp: ts, Type: models.HistoryFormSaved, UserID: userRef(actor)})
		return nil
	})
}

// AssignStep sets the assignee of a step that is not yet completed.
func (e *Engine) AssignStep(w *models.WorkflowState, stepID string, assignee, actor int64, ts time.Time) (*Outcome, error) {
	return e.mutate(w, func(work *models.WorkflowState, out *Outcome) error {
		step, err := work.Step(stepID)
		if err != nil {
			return err
		}
		if step.Status == models.StepCompleted {
			return apperrors.Validation("step", stepID, "completed steps cannot be reassigned")
		}
		ts, err = e.stamp(work, ts)
		if err != nil {
			return err
		}
		step.AssigneeID = userRef(assignee)
		step.Append(models.HistoryEntry{
			Timestamp: ts,
			Type:      models.HistoryAssigned,
			UserID:    userRef(actor),
			Content:   fmt.Sprintf("assigned to user %d", assignee),
		})
		out.add(StepEvent{Event: models.EventTicketAssigned, StepID: stepID, AssigneeID: userRef(assignee)})
		return nil
	})
}

// Comment appends free text to a step history. content must already be
// sanitized by the caller.
func (e *Engine) Comment(w *models.WorkflowState, stepID, content string, actor int64, ts time.Time) (*Outcome, error) {
	return e.mutate(w, func(work *models.WorkflowState, out *Outcome) error {
		step, err := work.Step(stepID)
		if err != nil {
			return err
		}
		if content == "" {
			return apperrors.Validation("step", stepID, "comment is empty")
		}
		ts, err = e.stamp(work, ts)
		if err != nil {
			return err
		}
		step.Append(models.HistoryEntry{Timestamp: ts, Type: models.HistoryComment, UserID: userRef(actor), Content: content})
		return nil
	})
}

// mutate runs fn against a copy of w and commits the copy only on success.
func (e *Engine) mutate(w *models.WorkflowState, fn func(*models.WorkflowState, *Outcome) error) (*Outcome, error) {
	if w == nil {
		return nil, apperrors.Validation("workflow", nil, "ticket has no workflow state")
	}
	if len(w.Metadata.StepDefinitions) == 0 {
		return nil, apperrors.Integrity("workflow", w.Metadata.TemplateVersion, "workflow state carries no step definitions")
	}
	work := w.Clone()
	out := &Outcome{}
	if err := fn(work, out); err != nil {
		return nil, err
	}
	*w = *work
	return out, nil
}

func (e *Engine) advance(ctx context.Context, w *models.WorkflowState, out *Outcome, stepID string, to models.StepStatus, actor int64, ts time.Time, data map[string]interface{}) error {
	if !to.Valid() {
		return apperrors.Validation("step", stepID, "unknown status %q", to)
	}
	step, err := w.Step(stepID)
	if err != nil {
		return err
	}
	def, ok := w.Definition(stepID)
	if !ok {
		return apperrors.Integrity("step", stepID, "no frozen definition for step")
	}
	from := step.Status
	if !isLegal(from, to) {
		return apperrors.Validation("step", stepID, "illegal transition %s -> %s", from, to)
	}
	if to == models.StepInProgress {
		if err := dependenciesMet(w, def); err != nil {
			return err
		}
	}
	if to == models.StepCompleted {
		merged := mergeForm(step.FormData, data)
		if err := ValidateFormData(stepID, w.Metadata.FormDefinitions[stepID], merged, true); err != nil {
			return err
		}
		step.FormData = merged
	}
	ts, err = e.stamp(w, ts)
	if err != nil {
		return err
	}

	switch to {
	case models.StepInProgress:
		if err := e.start(ctx, w, out, def, step, actor, ts, false); err != nil {
			return err
		}
	case models.StepCompleted, models.StepRejected:
		done := ts
		step.Status = to
		step.CompletedAt = &done
		step.Append(statusEntry(ts, from, to, actor))
		if to == models.StepRejected {
			out.add(StepEvent{Event: models.EventStepSkipped, StepID: stepID, AssigneeID: step.AssigneeID})
			return nil
		}
		out.add(StepEvent{Event: models.EventStepCompleted, StepID: stepID, AssigneeID: step.AssigneeID})
		return e.autoAdvance(ctx, w, out, stepID, actor, ts)
	}
	return nil
}

// start moves a step to in_progress and resolves its assignee.
func (e *Engine) start(ctx context.Context, w *models.WorkflowState, out *Outcome, def *models.StepSnapshot, step *models.StepState, actor int64, ts time.Time, automatic bool) error {
	if step.AssigneeID == nil {
		id, err := e.assigner.Assign(ctx, *def, w.Metadata.WorkflowConfig)
		if err != nil {
			return err
		}
		step.AssigneeID = id
	}
	from := step.Status
	started := ts
	step.Status = models.StepInProgress
	step.StartedAt = &started
	step.CompletedAt = nil
	step.Append(statusEntry(ts, from, models.StepInProgress, actor))
	out.add(StepEvent{Event: models.EventStepStarted, StepID: def.ID, AssigneeID: step.AssigneeID, Automatic: automatic})
	return nil
}

func (e *Engine) autoAdvance(ctx context.Context, w *models.WorkflowState, out *Outcome, completedID string, actor int64, ts time.Time) error {
	defs := w.Metadata.StepDefinitions
	if w.Metadata.WorkflowConfig.ParallelExecution {
		for i := range defs {
			step := w.Steps[defs[i].ID]
			if step == nil || step.Status != models.StepPending || dependenciesMet(w, &defs[i]) != nil {
				continue
			}
			if err := e.start(ctx, w, out, &defs[i], step, actor, ts, true); err != nil {
				return err
			}
		}
		return nil
	}

	for _, s := range w.Steps {
		if s.Status == models.StepInProgress {
			return nil
		}
	}
	idx := -1
	for i := range defs {
		if defs[i].ID == completedID {
			idx = i
			break
		}
	}
	for i := idx + 1; i < len(defs); i++ {
		step := w.Steps[defs[i].ID]
		if step == nil || step.Status != models.StepPending || dependenciesMet(w, &defs[i]) != nil {
			continue
		}
		return e.start(ctx, w, out, &defs[i], step, actor, ts, true)
	}
	return nil
}

// stamp keeps history timestamps non-decreasing across the workflow.
func (e *Engine) stamp(w *models.WorkflowState, ts time.Time) (time.Time, error) {
	last := w.LastTimestamp()
	if ts.Before(last) {
		if e.opts.StrictClock {
			return ts, apperrors.Validation("workflow", w.Metadata.TemplateVersion,
				"timestamp %s precedes last history entry %s", ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		}
		return last, nil
	}
	return ts, nil
}

func dependenciesMet(w *models.WorkflowState, def *models.StepSnapshot) error {
	for _, dep := range def.Dependencies {
		s, ok := w.Steps[dep]
		if !ok {
			return apperrors.Integrity("step", def.ID, "dependency %q missing from workflow", dep)
		}
		if s.Status != models.StepCompleted {
			return apperrors.Validation("step", def.ID, "dependency %q is %s, not completed", dep, s.Status)
		}
	}
	return nil
}

func statusEntry(ts time.Time, from, to models.StepStatus, actor int64) models.HistoryEntry {
	return models.HistoryEntry{Timestamp: ts, Type: models.HistoryStatusChange, From: from, To: to, UserID: userRef(actor)}
}

func mergeForm(current, update map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(current)+len(update))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

func userRef(id int64) *int64 { return &id }

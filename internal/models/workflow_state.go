package models

import (
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
)

// StepStatus is the state of a single workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepRejected   StepStatus = "rejected"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepRejected:
		return true
	}
	return false
}

// HistoryType names the kind of event recorded in a step history.
type HistoryType string

const (
	HistoryStatusChange HistoryType = "status_change"
	HistoryAssigned     HistoryType = "assigned"
	HistoryFormSaved    HistoryType = "form_saved"
	HistoryComment      HistoryType = "comment"
)

// HistoryEntry is an immutable record appended to a step history.
type HistoryEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Type      HistoryType `json:"type"`
	From      StepStatus  `json:"from,omitempty"`
	To        StepStatus  `json:"to,omitempty"`
	UserID    *int64      `json:"user_id,omitempty"`
	Content   string      `json:"content,omitempty"`
}

// StepState is the per-ticket progress of one step.
type StepState struct {
	Status      StepStatus             `json:"status"`
	AssigneeID  *int64                 `json:"assignee_id"`
	StartedAt   *time.Time             `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at"`
	FormData    map[string]interface{} `json:"form_data"`
	History     []HistoryEntry         `json:"history"`
}

// Append adds an entry to the step history.
func (s *StepState) Append(e HistoryEntry) {
	s.History = append(s.History, e)
}

// StepSnapshot is the part of a step definition the engine needs after
// instantiation. It is frozen into the workflow metadata.
type StepSnapshot struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	AssignableRoles []string `json:"assignable_roles"`
	Dependencies    []string `json:"dependencies,omitempty"`
}

// WorkflowMetadata is frozen at ticket creation.
type WorkflowMetadata struct {
	TemplateVersion string                       `json:"template_version"`
	CreatedAt       time.Time                    `json:"created_at"`
	WorkflowConfig  WorkflowConfig               `json:"workflow_config"`
	FormDefinitions map[string][]FieldDefinition `json:"form_definitions"`
	StepDefinitions []StepSnapshot               `json:"step_definitions,omitempty"`
}

// WorkflowState is the full per-ticket workflow snapshot.
type WorkflowState struct {
	Metadata WorkflowMetadata      `json:"metadata"`
	Steps    map[string]*StepState `json:"steps"`
}

// Step returns the state of step id or a NotFound error.
func (w *WorkflowState) Step(id string) (*StepState, error) {
	s, ok := w.Steps[id]
	if !ok || s == nil {
		return nil, apperrors.NotFound("step", id)
	}
	return s, nil
}

// Definition returns the frozen definition of step id.
func (w *WorkflowState) Definition(id string) (*StepSnapshot, bool) {
	for i := range w.Metadata.StepDefinitions {
		if w.Metadata.StepDefinitions[i].ID == id {
			return &w.Metadata.StepDefinitions[i], true
		}
	}
	return nil, false
}

// Progress returns the number of completed steps and the total.
func (w *WorkflowState) Progress() (completed, total int) {
	for _, s := range w.Steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return completed, len(w.Steps)
}

// AllCompleted reports whether every step is completed.
func (w *WorkflowState) AllCompleted() bool {
	c, t := w.Progress()
	return t > 0 && c == t
}

// LastTimestamp returns the latest history timestamp across all steps.
func (w *WorkflowState) LastTimestamp() time.Time {
	var last time.Time
	for _, s := range w.Steps {
		if n := len(s.History); n > 0 && s.History[n-1].Timestamp.After(last) {
			last = s.History[n-1].Timestamp
		}
	}
	return last
}

// Clone returns a deep copy of w. Form data values are copied one level deep.
func (w *WorkflowState) Clone() *WorkflowState {
	if w == nil {
		return nil
	}
	out := &WorkflowState{
		Metadata: WorkflowMetadata{
			TemplateVersion: w.Metadata.TemplateVersion,
			CreatedAt:       w.Metadata.CreatedAt,
			WorkflowConfig:  w.Metadata.WorkflowConfig.Clone(),
			FormDefinitions: make(map[string][]FieldDefinition, len(w.Metadata.FormDefinitions)),
		},
		Steps: make(map[string]*StepState, len(w.Steps)),
	}
	for id, fields := range w.Metadata.FormDefinitions {
		out.Metadata.FormDefinitions[id] = CloneFields(fields)
	}
	for _, d := range w.Metadata.StepDefinitions {
		out.Metadata.StepDefinitions = append(out.Metadata.StepDefinitions, StepSnapshot{
			ID:              d.ID,
			Name:            d.Name,
			AssignableRoles: append([]string(nil), d.AssignableRoles...),
			Dependencies:    append([]string(nil), d.Dependencies...),
		})
	}
	for id, s := range w.Steps {
		cp := &StepState{
			Status:      s.Status,
			AssigneeID:  cloneInt64(s.AssigneeID),
			StartedAt:   cloneTime(s.StartedAt),
			CompletedAt: cloneTime(s.CompletedAt),
			FormData:    make(map[string]interface{}, len(s.FormData)),
			History:     make([]HistoryEntry, len(s.History)),
		}
		for k, v := range s.FormData {
			cp.FormData[k] = v
		}
		for i, h := range s.History {
			h.UserID = cloneInt64(h.UserID)
			cp.History[i] = h
		}
		out.Steps[id] = cp
	}
	return out
}

// CloneFields deep-copies a form definition.
func CloneFields(fields []FieldDefinition) []FieldDefinition {
	out := make([]FieldDefinition, len(fields))
	for i, f := range fields {
		f.Options = append([]string(nil), f.Options...)
		if f.Validation != nil {
			v := *f.Validation
			f.Validation = &v
		}
		if f.ResourceTypeID != nil {
			id := *f.ResourceTypeID
			f.ResourceTypeID = &id
		}
		out[i] = f
	}
	return out
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package models

import (
	"regexp"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
)

// FieldType is the input type of a step form field.
type FieldType string

const (
	FieldText          FieldType = "text"
	FieldTextarea      FieldType = "textarea"
	FieldNumber        FieldType = "number"
	FieldSelect        FieldType = "select"
	FieldCheckboxGroup FieldType = "checkbox_group"
	FieldRadioGroup    FieldType = "radio_group"
	FieldDatetime      FieldType = "datetime"
	FieldFile          FieldType = "file"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldNumber, FieldSelect, FieldCheckboxGroup,
		FieldRadioGroup, FieldDatetime, FieldFile:
		return true
	}
	return false
}

// HasOptions reports whether fields of this type choose from an option list.
func (t FieldType) HasOptions() bool {
	return t == FieldSelect || t == FieldCheckboxGroup || t == FieldRadioGroup
}

// Notification events and channels accepted in notification rules.
const (
	EventStepStarted     = "step_started"
	EventStepCompleted   = "step_completed"
	EventStepOverdue     = "step_overdue"
	EventStepSkipped     = "step_skipped"
	EventTicketCreated   = "ticket_created"
	EventTicketAssigned  = "ticket_assigned"
	EventTicketUpdated   = "ticket_updated"
	EventTicketCompleted = "ticket_completed"

	ChannelEmail = "email"
	ChannelSlack = "slack"
)

var knownEvents = map[string]bool{
	EventStepStarted: true, EventStepCompleted: true, EventStepOverdue: true, EventStepSkipped: true,
	EventTicketCreated: true, EventTicketAssigned: true, EventTicketUpdated: true, EventTicketCompleted: true,
}

var knownChannels = map[string]bool{ChannelEmail: true, ChannelSlack: true}

// ValidationRule constrains the value of a form field.
type ValidationRule struct {
	MinLength     *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength     *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Min           *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	CustomMessage string   `json:"custom_message,omitempty" yaml:"custom_message,omitempty"`
}

// FieldDefinition describes one input of a step form.
type FieldDefinition struct {
	ID                   string          `json:"id" yaml:"id"`
	Name                 string          `json:"name" yaml:"name"`
	Type                 FieldType       `json:"type" yaml:"type"`
	Label                string          `json:"label" yaml:"label"`
	Required             bool            `json:"required" yaml:"required"`
	Options              []string        `json:"options,omitempty" yaml:"options,omitempty"`
	Validation           *ValidationRule `json:"validation,omitempty" yaml:"validation,omitempty"`
	Placeholder          string          `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText             string          `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Width                string          `json:"width,omitempty" yaml:"width,omitempty"`
	DefaultValue         interface{}     `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	ResourceTypeID       *int64          `json:"resource_type_id,omitempty" yaml:"resource_type_id,omitempty"`
	ResourceDisplayField string          `json:"resource_display_field,omitempty" yaml:"resource_display_field,omitempty"`
}

// StepDefinition is one stage of a template workflow.
type StepDefinition struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description" yaml:"description"`
	AssignableRoles []string          `json:"assignable_roles" yaml:"assignable_roles"`
	Dependencies    []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Form            []FieldDefinition `json:"form" yaml:"form"`
}

// NotificationRule routes a workflow event to the holders of some roles.
type NotificationRule struct {
	Event       string   `json:"event" yaml:"event"`
	NotifyRoles []string `json:"notify_roles" yaml:"notify_roles"`
	Channels    []string `json:"channels" yaml:"channels"`
}

// WorkflowConfig holds execution options for a template's workflow.
type WorkflowConfig struct {
	ParallelExecution bool               `json:"parallel_execution" yaml:"parallel_execution"`
	AutoAssignment    bool               `json:"auto_assignment" yaml:"auto_assignment"`
	NotificationRules []NotificationRule `json:"notification_rules" yaml:"notification_rules"`
}

// DefaultWorkflowConfig is used when a template carries no config.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{NotificationRules: []NotificationRule{}}
}

// Clone returns a deep copy of c.
func (c WorkflowConfig) Clone() WorkflowConfig {
	out := WorkflowConfig{
		ParallelExecution: c.ParallelExecution,
		AutoAssignment:    c.AutoAssignment,
		NotificationRules: make([]NotificationRule, 0, len(c.NotificationRules)),
	}
	for _, r := range c.NotificationRules {
		out.NotificationRules = append(out.NotificationRules, NotificationRule{
			Event:       r.Event,
			NotifyRoles: append([]string(nil), r.NotifyRoles...),
			Channels:    append([]string(nil), r.Channels...),
		})
	}
	return out
}

// Template is a reusable ticket workflow definition.
type Template struct {
	ID              int64            `json:"id" db:"id" yaml:"-"`
	Name            string           `json:"name" db:"name" yaml:"name"`
	Description     string           `json:"description" db:"description" yaml:"description"`
	TitleFormat     string           `json:"title_format" db:"title_format" yaml:"title_format"`
	DefaultPriority string           `json:"default_priority" db:"default_priority" yaml:"default_priority"`
	Workflow        []StepDefinition `json:"workflow" db:"-" yaml:"workflow"`
	WorkflowConfig  *WorkflowConfig  `json:"workflow_config" db:"-" yaml:"workflow_config"`
	CreatedBy       int64            `json:"created_by" db:"created_by" yaml:"-"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at" yaml:"-"`
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Workflow = make([]StepDefinition, len(t.Workflow))
	for i, s := range t.Workflow {
		s.AssignableRoles = append([]string(nil), s.AssignableRoles...)
		s.Dependencies = append([]string(nil), s.Dependencies...)
		s.Form = CloneFields(s.Form)
		cp.Workflow[i] = s
	}
	if t.WorkflowConfig != nil {
		cfg := t.WorkflowConfig.Clone()
		cp.WorkflowConfig = &cfg
	}
	return &cp
}

// Step returns the step definition with the given id.
func (t *Template) Step(id string) (*StepDefinition, bool) {
	for i := range t.Workflow {
		if t.Workflow[i].ID == id {
			return &t.Workflow[i], true
		}
	}
	return nil, false
}

// Validate checks the structural rules of a template definition.
func (t *Template) Validate() error {
	if t.Name == "" {
		return apperrors.Validation("template", t.ID, "name is required")
	}
	if len(t.Workflow) == 0 {
		return apperrors.Validation("template", t.ID, "workflow has no steps")
	}

	seen := make(map[string]int, len(t.Workflow))
	for i, step := range t.Workflow {
		if step.ID == "" {
			return apperrors.Validation("template", t.ID, "step %d has no id", i)
		}
		if _, dup := seen[step.ID]; dup {
			return apperrors.Validation("template", t.ID, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = i
		if len(step.AssignableRoles) == 0 {
			return apperrors.Validation("step", step.ID, "assignable_roles must not be empty")
		}
		if err := validateForm(step); err != nil {
			return err
		}
	}

	// Dependencies point at earlier steps only, so the graph cannot cycle.
	for i, step := range t.Workflow {
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return apperrors.Validation("step", step.ID, "step depends on itself")
			}
			j, ok := seen[dep]
			if !ok {
				return apperrors.Validation("step", step.ID, "unknown dependency %q", dep)
			}
			if j >= i {
				return apperrors.Validation("step", step.ID, "dependency %q must be an earlier step", dep)
			}
		}
	}

	if t.WorkflowConfig != nil {
		for i, rule := range t.WorkflowConfig.NotificationRules {
			if !knownEvents[rule.Event] {
				return apperrors.Validation("template", t.ID, "notification rule %d: unknown event %q", i, rule.Event)
			}
			if len(rule.NotifyRoles) == 0 {
				return apperrors.Validation("template", t.ID, "notification rule %d: notify_roles must not be empty", i)
			}
			if len(rule.Channels) == 0 {
				return apperrors.Validation("template", t.ID, "notification rule %d: channels must not be empty", i)
			}
			for _, ch := range rule.Channels {
				if !knownChannels[ch] {
					return apperrors.Validation("template", t.ID, "notification rule %d: unknown channel %q", i, ch)
				}
			}
		}
	}
	return nil
}

func validateForm(step StepDefinition) error {
	ids := make(map[string]bool, len(step.Form))
	for _, f := range step.Form {
		if f.ID == "" {
			return apperrors.Validation("step", step.ID, "form field without id")
		}
		if ids[f.ID] {
			return apperrors.Validation("step", step.ID, "duplicate field id %q", f.ID)
		}
		ids[f.ID] = true
		if !f.Type.Valid() {
			return apperrors.Validation("step", step.ID, "field %q has unknown type %q", f.ID, f.Type)
		}
		if f.Type.HasOptions() && len(f.Options) == 0 {
			return apperrors.Validation("step", step.ID, "field %q of type %s requires options", f.ID, f.Type)
		}
		if f.Validation != nil && f.Validation.Pattern != "" {
			if _, err := regexp.Compile(f.Validation.Pattern); err != nil {
				return apperrors.Validation("step", step.ID, "field %q has invalid pattern: %v", f.ID, err)
			}
		}
	}
	return nil
}

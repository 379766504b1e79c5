// Package workflow builds and advances the per-ticket workflow state.
package workflow

import (
	"time"

	"github.com/officeflow/officeflow/internal/models"
)

// Instantiate builds the initial workflow state for a ticket created from
// tmpl at createdAt. The form schemas, step definitions and workflow config
// are copied so later template edits do not reach the ticket.
//
// Under sequential execution only the first step starts in_progress; under
// parallel execution every step without dependencies does.
func Instantiate(tmpl *models.Template, createdAt time.Time) (*models.WorkflowState, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	tag, err := VersionTag(tmpl)
	if err != nil {
		return nil, err
	}

	cfg := models.DefaultWorkflowConfig()
	if tmpl.WorkflowConfig != nil {
		cfg = tmpl.WorkflowConfig.Clone()
	}

	state := &models.WorkflowState{
		Metadata: models.WorkflowMetadata{
			TemplateVersion: tag,
			CreatedAt:       createdAt,
			WorkflowConfig:  cfg,
			FormDefinitions: make(map[string][]models.FieldDefinition, len(tmpl.Workflow)),
			StepDefinitions: make([]models.StepSnapshot, 0, len(tmpl.Workflow)),
		},
		Steps: make(map[string]*models.StepState, len(tmpl.Workflow)),
	}

	for i, def := range tmpl.Workflow {
		state.Metadata.FormDefinitions[def.ID] = models.CloneFields(def.Form)
		state.Metadata.StepDefinitions = append(state.Metadata.StepDefinitions, snapshot(def))

		step := &models.StepState{
			Status:   models.StepPending,
			FormData: map[string]interface{}{},
			History:  []models.HistoryEntry{},
		}
		start := i == 0
		if cfg.ParallelExecution {
			start = len(def.Dependencies) == 0
		}
		if start {
			started := createdAt
			step.Status = models.StepInProgress
			step.StartedAt = &started
			step.Append(models.HistoryEntry{
				Timestamp: createdAt,
				Type:      models.HistoryStatusChange,
				From:      models.StepPending,
				To:        models.StepInProgress,
			})
		}
		state.Steps[def.ID] = step
	}
	return state, nil
}

func snapshot(def models.StepDefinition) models.StepSnapshot {
	return models.StepSnapshot{
		ID:              def.ID,
		Name:            def.Name,
		AssignableRoles: append([]string(nil), def.AssignableRoles...),
		Dependencies:    append([]string(nil), def.Dependencies...),
	}
}

package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// Encode serializes workflow state to the persisted workflow_data format.
func Encode(w *models.WorkflowState) ([]byte, error) {
	if w == nil {
		return []byte("null"), nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode workflow state: %w", err)
	}
	return b, nil
}

// Decode parses persisted workflow_data. Unknown step statuses are rejected
// and absent collections come back empty rather than nil.
func Decode(data []byte) (*models.WorkflowState, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var w models.WorkflowState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, apperrors.Validation("workflow", nil, "malformed workflow_data: %v", err)
	}
	if w.Steps == nil {
		w.Steps = map[string]*models.StepState{}
	}
	if w.Metadata.FormDefinitions == nil {
		w.Metadata.FormDefinitions = map[string][]models.FieldDefinition{}
	}
	if w.Metadata.WorkflowConfig.NotificationRules == nil {
		w.Metadata.WorkflowConfig.NotificationRules = []models.NotificationRule{}
	}
	for id, s := range w.Steps {
		if s == nil {
			return nil, apperrors.Validation("step", id, "null step state")
		}
		if !s.Status.Valid() {
			return nil, apperrors.Validation("step", id, "unknown status %q", s.Status)
		}
		if s.FormData == nil {
			s.FormData = map[string]interface{}{}
		}
		if s.History == nil {
			s.History = []models.HistoryEntry{}
		}
	}
	return &w, nil
}

package workflow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/officeflow/officeflow/internal/models"
)

// versionPrefix marks tags produced by VersionTag.
const versionPrefix = "b3:"

// VersionTag fingerprints the parts of a template that shape a workflow:
// its ordered steps and its workflow config. Edits to name, title format or
// priority do not change the tag.
func VersionTag(tmpl *models.Template) (string, error) {
	cfg := models.DefaultWorkflowConfig()
	if tmpl.WorkflowConfig != nil {
		cfg = *tmpl.WorkflowConfig
	}
	payload, err := json.Marshal(struct {
		Workflow []models.StepDefinition `json:"workflow"`
		Config   models.WorkflowConfig   `json:"workflow_config"`
	}{tmpl.Workflow, cfg})
	if err != nil {
		return "", fmt.Errorf("encode template %d for version tag: %w", tmpl.ID, err)
	}
	sum := blake3.Sum256(payload)
	return versionPrefix + hex.EncodeToString(sum[:8]), nil
}

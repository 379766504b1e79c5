package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func expenseFields() []models.FieldDefinition {
	return []models.FieldDefinition{
		{ID: "purpose", Type: models.FieldText, Required: true, Validation: &models.ValidationRule{MaxLength: intPtr(20)}},
		{ID: "amount", Type: models.FieldNumber, Required: true, Validation: &models.ValidationRule{Min: floatPtr(0), Max: floatPtr(5000)}},
		{ID: "category", Type: models.FieldSelect, Options: []string{"travel", "meals"}},
		{ID: "tags", Type: models.FieldCheckboxGroup, Options: []string{"urgent", "client"}},
		{ID: "code", Type: models.FieldText, Validation: &models.ValidationRule{Pattern: "^[A-Z]{3}$", CustomMessage: "use a three letter code"}},
		{ID: "due", Type: models.FieldDatetime},
		{ID: "receipt", Type: models.FieldFile},
	}
}

func TestValidateFormData(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]interface{}
		complete bool
		wantErr  string
	}{
		{
			name:     "complete and valid",
			data:     map[string]interface{}{"purpose": "client visit", "amount": 120.5, "category": "travel", "tags": []interface{}{"client"}},
			complete: true,
		},
		{
			name:     "draft may omit required",
			data:     map[string]interface{}{"category": "meals"},
			complete: false,
		},
		{
			name:     "missing required on completion",
			data:     map[string]interface{}{"purpose": "visit"},
			complete: true,
			wantErr:  "amount:",
		},
		{
			name:     "empty required text on completion",
			data:     map[string]interface{}{"purpose": "", "amount": 1},
			complete: true,
			wantErr:  "purpose:",
		},
		{
			name:    "too long",
			data:    map[string]interface{}{"purpose": "a very long purpose text here"},
			wantErr: "purpose:",
		},
		{
			name:    "out of range",
			data:    map[string]interface{}{"amount": 9000},
			wantErr: "amount:",
		},
		{
			name:    "option outside list",
			data:    map[string]interface{}{"category": "lodging"},
			wantErr: "category:",
		},
		{
			name:    "checkbox option outside list",
			data:    map[string]interface{}{"tags": []interface{}{"urgent", "later"}},
			wantErr: "tags:",
		},
		{
			name:    "custom message",
			data:    map[string]interface{}{"code": "abc"},
			wantErr: "code: use a three letter code",
		},
		{
			name:    "bad datetime",
			data:    map[string]interface{}{"due": "tomorrow"},
			wantErr: "due:",
		},
		{
			name: "file metadata",
			data: map[string]interface{}{"receipt": []interface{}{
				map[string]interface{}{"original_name": "r.pdf", "saved_name": "7f3a.pdf"},
			}},
		},
		{
			name:    "unknown field",
			data:    map[string]interface{}{"color": "red"},
			wantErr: "color:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormData("expense", expenseFields(), tt.data, tt.complete)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormSchemaRequiredOnlyWhenComplete(t *testing.T) {
	fields := expenseFields()
	assert.NotContains(t, FormSchema(fields, false), "required")
	assert.Equal(t, []string{"purpose", "amount"}, FormSchema(fields, true)["required"])
}

func formTemplate() *models.Template {
	tmpl := twoStepTemplate()
	tmpl.Workflow[0].Form = []models.FieldDefinition{
		{ID: "days", Type: models.FieldNumber, Required: true, Validation: &models.ValidationRule{Min: floatPtr(1)}},
		{ID: "note", Type: models.FieldTextarea},
	}
	return tmpl
}

func TestCompletionRequiresValidForm(t *testing.T) {
	ctx := context.Background()
	w, err := Instantiate(formTemplate(), t0)
	require.NoError(t, err)
	e := NewEngine(nil, Options{})
	before := w.Clone()

	_, err = e.AdvanceStep(ctx, w, "A", models.StepCompleted, 1, t0)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, before, w)

	_, err = e.SubmitStep(ctx, w, "A", map[string]interface{}{"days": 3}, 1, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, w.Steps["A"].Status)
	assert.Equal(t, 3, w.Steps["A"].FormData["days"])
	assert.Equal(t, models.StepInProgress, w.Steps["B"].Status)
}

func TestSaveForm(t *testing.T) {
	w, err := Instantiate(formTemplate(), t0)
	require.NoError(t, err)
	e := NewEngine(nil, Options{})

	_, err = e.SaveForm(w, "A", map[string]interface{}{"note": "family trip"}, 1, t0)
	require.NoError(t, err)
	assert.Equal(t, "family trip", w.Steps["A"].FormData["note"])
	assert.Equal(t, models.StepInProgress, w.Steps["A"].Status)
	last := w.Steps["A"].History[len(w.Steps["A"].History)-1]
	assert.Equal(t, models.HistoryFormSaved, last.Type)

	_, err = e.SaveForm(w, "A", map[string]interface{}{"days": 0}, 1, t0)
	assert.True(t, apperrors.IsValidation(err))
	assert.NotContains(t, w.Steps["A"].FormData, "days")

	_, err = e.SaveForm(w, "B", map[string]interface{}{}, 1, t0)
	assert.True(t, apperrors.IsValidation(err))

	_, err = e.SubmitStep(context.Background(), w, "A", map[string]interface{}{"days": 2}, 1, t0)
	require.NoError(t, err)
	assert.Equal(t, "family trip", w.Steps["A"].FormData["note"])
}

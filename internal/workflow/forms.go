package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// FormSchema builds a JSON schema for a step form. When complete is true the
// required fields must be present and non-empty; drafts only check the
// values that are present. Unknown field ids are rejected either way.
func FormSchema(fields []models.FieldDefinition, complete bool) map[string]interface{} {
	props := make(map[string]interface{}, len(fields))
	required := []string{}
	for _, f := range fields {
		props[f.ID] = fieldSchema(f, complete)
		if complete && f.Required {
			required = append(required, f.ID)
		}
	}
	schema := map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func fieldSchema(f models.FieldDefinition, complete bool) map[string]interface{} {
	s := map[string]interface{}{}
	v := f.Validation
	if v == nil {
		v = &models.ValidationRule{}
	}
	nonEmpty := complete && f.Required

	switch f.Type {
	case models.FieldText, models.FieldTextarea:
		s["type"] = "string"
		if v.MinLength != nil {
			s["minLength"] = *v.MinLength
		} else if nonEmpty {
			s["minLength"] = 1
		}
		if v.MaxLength != nil {
			s["maxLength"] = *v.MaxLength
		}
		if v.Pattern != "" {
			s["pattern"] = v.Pattern
		}
	case models.FieldNumber:
		s["type"] = "number"
		if v.Min != nil {
			s["minimum"] = *v.Min
		}
		if v.Max != nil {
			s["maximum"] = *v.Max
		}
	case models.FieldSelect, models.FieldRadioGroup:
		s["type"] = "string"
		s["enum"] = f.Options
	case models.FieldCheckboxGroup:
		s["type"] = "array"
		s["uniqueItems"] = true
		s["items"] = map[string]interface{}{"type": "string", "enum": f.Options}
		if nonEmpty {
			s["minItems"] = 1
		}
	case models.FieldDatetime:
		s["type"] = "string"
		s["format"] = "date-time"
	case models.FieldFile:
		s["type"] = "array"
		s["items"] = map[string]interface{}{
			"type":     "object",
			"required": []string{"original_name", "saved_name"},
			"properties": map[string]interface{}{
				"original_name": map[string]interface{}{"type": "string"},
				"saved_name":    map[string]interface{}{"type": "string"},
			},
		}
		if nonEmpty {
			s["minItems"] = 1
		}
	}
	return s
}

// ValidateFormData checks data against the frozen form of stepID.
func ValidateFormData(stepID string, fields []models.FieldDefinition, data map[string]interface{}, complete bool) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	schemaLoader := gojsonschema.NewGoLoader(FormSchema(fields, complete))
	docJSON, err := json.Marshal(data)
	if err != nil {
		return apperrors.Validation("step", stepID, "form data is not serializable: %v", err)
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return fmt.Errorf("validate form of step %q: %w", stepID, err)
	}
	if result.Valid() {
		return nil
	}

	custom := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.Validation != nil && f.Validation.CustomMessage != "" {
			custom[f.ID] = f.Validation.CustomMessage
		}
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		field := e.Field()
		if field == "(root)" {
			if p, ok := e.Details()["property"].(string); ok {
				field = p
			}
		}
		field = strings.SplitN(field, ".", 2)[0]
		if m, ok := custom[field]; ok {
			msgs = append(msgs, field+": "+m)
			continue
		}
		msgs = append(msgs, field+": "+e.Description())
	}
	sort.Strings(msgs)
	return apperrors.Validation("step", stepID, "invalid form data: %s", strings.Join(msgs, "; "))
}

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

func TestCodecRoundTrip(t *testing.T) {
	w, err := Instantiate(formTemplate(), t0)
	require.NoError(t, err)
	e := NewEngine(nil, Options{})
	_, err = e.SubmitStep(context.Background(), w, "A", map[string]interface{}{"days": 2, "note": "ok"}, 7, t0)
	require.NoError(t, err)

	first, err := Encode(w)
	require.NoError(t, err)
	decoded, err := Decode(first)
	require.NoError(t, err)
	second, err := Encode(decoded)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, w.Metadata.TemplateVersion, decoded.Metadata.TemplateVersion)
	assert.Equal(t, models.StepInProgress, decoded.Steps["B"].Status)
	assert.Equal(t, int64(7), *decoded.Steps["A"].History[1].UserID)
}

func TestDecodeEdgeCases(t *testing.T) {
	w, err := Decode(nil)
	assert.NoError(t, err)
	assert.Nil(t, w)

	w, err = Decode([]byte("null"))
	assert.NoError(t, err)
	assert.Nil(t, w)

	_, err = Decode([]byte("{not json"))
	assert.True(t, apperrors.IsValidation(err))

	_, err = Decode([]byte(`{"metadata":{},"steps":{"A":{"status":"paused"}}}`))
	assert.True(t, apperrors.IsValidation(err))

	w, err = Decode([]byte(`{"metadata":{"template_version":"v1"},"steps":{"A":{"status":"pending"}}}`))
	require.NoError(t, err)
	assert.NotNil(t, w.Steps["A"].FormData)
	assert.NotNil(t, w.Steps["A"].History)
	assert.NotNil(t, w.Metadata.FormDefinitions)
}

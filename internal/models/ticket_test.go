package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officeflow/officeflow/internal/apperrors"
)

func sampleState() *WorkflowState {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	user := int64(7)
	return &WorkflowState{
		Metadata: WorkflowMetadata{
			TemplateVersion: "b3:abc",
			CreatedAt:       now,
			WorkflowConfig:  DefaultWorkflowConfig(),
			FormDefinitions: map[string][]FieldDefinition{"a": {{ID: "f", Type: FieldSelect, Options: []string{"x"}}}},
			StepDefinitions: []StepSnapshot{{ID: "a", AssignableRoles: []string{"r"}}, {ID: "b", AssignableRoles: []string{"r"}, Dependencies: []string{"a"}}},
		},
		Steps: map[string]*StepState{
			"a": {Status: StepCompleted, AssigneeID: &user, StartedAt: &now, FormData: map[string]interface{}{"f": "x"},
				History: []HistoryEntry{{Timestamp: now, Type: HistoryStatusChange, From: StepPending, To: StepInProgress}}},
			"b": {Status: StepPending, FormData: map[string]interface{}{}, History: []HistoryEntry{}},
		},
	}
}

func TestWorkflowStateStepLookup(t *testing.T) {
	w := sampleState()
	_, err := w.Step("a")
	require.NoError(t, err)

	_, err = w.Step("zzz")
	assert.True(t, apperrors.IsNotFound(err))

	def, ok := w.Definition("b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, def.Dependencies)
}

func TestWorkflowStateProgress(t *testing.T) {
	w := sampleState()
	done, total := w.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 2, total)
	assert.False(t, w.AllCompleted())

	w.Steps["b"].Status = StepCompleted
	assert.True(t, w.AllCompleted())
}

func TestWorkflowStateCloneIsDeep(t *testing.T) {
	w := sampleState()
	cp := w.Clone()

	*cp.Steps["a"].AssigneeID = 99
	cp.Steps["a"].History[0].Content = "edited"
	cp.Steps["a"].FormData["f"] = "y"
	cp.Metadata.FormDefinitions["a"][0].Options[0] = "z"
	cp.Metadata.StepDefinitions[1].Dependencies[0] = "q"

	assert.Equal(t, int64(7), *w.Steps["a"].AssigneeID)
	assert.Empty(t, w.Steps["a"].History[0].Content)
	assert.Equal(t, "x", w.Steps["a"].FormData["f"])
	assert.Equal(t, "x", w.Metadata.FormDefinitions["a"][0].Options[0])
	assert.Equal(t, "a", w.Metadata.StepDefinitions[1].Dependencies[0])
}

func TestTicketStatusTransitions(t *testing.T) {
	assert.True(t, TicketOpened.CanTransitionTo(TicketInProgress))
	assert.True(t, TicketInProgress.CanTransitionTo(TicketCompleted))
	assert.True(t, TicketCompleted.CanTransitionTo(TicketClosed))
	assert.True(t, TicketClosed.CanTransitionTo(TicketOpened))
	assert.False(t, TicketClosed.CanTransitionTo(TicketCompleted))
	assert.False(t, TicketOpened.CanTransitionTo(TicketOpened))
	assert.False(t, TicketStatus("deleted").Valid())
}

func TestTicketHasHistory(t *testing.T) {
	tk := &Ticket{Workflow: sampleState()}
	assert.False(t, tk.HasHistory(), "instantiation entries carry no user")

	user := int64(3)
	tk.Workflow.Steps["b"].Append(HistoryEntry{Type: HistoryComment, UserID: &user, Content: "hi"})
	assert.True(t, tk.HasHistory())

	tk.Workflow.Steps["b"].History = nil
	assert.False(t, tk.HasHistory())
	assert.False(t, (&Ticket{}).HasHistory())
}

func TestListRequestNormalize(t *testing.T) {
	r := ListRequest{Offset: -3}.Normalize()
	assert.Equal(t, 0, r.Offset)
	assert.Equal(t, DefaultListLimit, r.Limit)
}

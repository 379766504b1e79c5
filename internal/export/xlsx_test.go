package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/officeflow/officeflow/internal/models"
)

func TestWriteTickets(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	started := created
	assignee := int64(7)
	tickets := []*models.Ticket{
		{
			ID: 12, Title: "Leave", TemplateID: 3, Status: models.TicketInProgress, Priority: "normal",
			CreatedBy: 2, CreatedAt: created, UpdatedAt: created.Add(time.Hour),
			Workflow: &models.WorkflowState{
				Metadata: models.WorkflowMetadata{StepDefinitions: []models.StepSnapshot{
					{ID: "z-apply", Name: "Apply"},
					{ID: "a-approve", Name: "Approve"},
				}},
				Steps: map[string]*models.StepState{
					"a-approve": {Status: models.StepPending},
					"z-apply": {Status: models.StepCompleted, AssigneeID: &assignee, StartedAt: &started, CompletedAt: &started,
						History: []models.HistoryEntry{{Type: models.HistoryStatusChange}, {Type: models.HistoryComment}}},
				},
			},
		},
		{ID: 13, Title: "Orphan", TemplateID: 99, Status: models.TicketOpened},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTickets(&buf, tickets, map[int64]string{3: "Leave request"}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(TicketsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Title", rows[0][1])
	assert.Equal(t, []string{"12", "Leave", "Leave request", "in_progress", "normal", "2", "1/2", "2026-04-01 09:30", "2026-04-01 10:30"}, rows[1])
	assert.Equal(t, "99", rows[2][2])

	steps, err := f.GetRows(StepsSheet)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"12", "z-apply", "Apply", "completed", "7", "2026-04-01 09:30", "2026-04-01 09:30", "2"}, steps[1])
	assert.Equal(t, "a-approve", steps[2][1])
}

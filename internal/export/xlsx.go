// Package export writes tickets and their step progress to XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/officeflow/officeflow/internal/models"
)

const (
	TicketsSheet = "Tickets"
	StepsSheet   = "Steps"

	timeLayout = "2006-01-02 15:04"
)

var (
	ticketHeader = []interface{}{"ID", "Title", "Template", "Status", "Priority", "Created By", "Progress", "Created At", "Updated At"}
	stepHeader   = []interface{}{"Ticket ID", "Step", "Name", "Status", "Assignee", "Started At", "Completed At", "History Entries"}
)

// WriteTickets writes one row per ticket and one row per ticket step.
// templateNames maps template ids to display names; unknown ids print as
// their number. Steps follow the frozen template order.
func WriteTickets(w io.Writer, tickets []*models.Ticket, templateNames map[int64]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TicketsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(StepsSheet); err != nil {
		return fmt.Errorf("add steps sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := writeHeader(f, TicketsSheet, ticketHeader, bold); err != nil {
		return err
	}
	if err := writeHeader(f, StepsSheet, stepHeader, bold); err != nil {
		return err
	}

	stepRow := 2
	for i, t := range tickets {
		tmplName, ok := templateNames[t.TemplateID]
		if !ok {
			tmplName = strconv.FormatInt(t.TemplateID, 10)
		}
		progress := ""
		if t.Workflow != nil {
			done, total := t.Workflow.Progress()
			progress = fmt.Sprintf("%d/%d", done, total)
		}
		if err := setRow(f, TicketsSheet, i+2, []interface{}{
			t.ID, t.Title, tmplName, string(t.Status), t.Priority, t.CreatedBy, progress,
			formatTime(&t.CreatedAt), formatTime(&t.UpdatedAt),
		}); err != nil {
			return err
		}

		for _, id := range stepOrder(t.Workflow) {
			s := t.Workflow.Steps[id]
			name := ""
			if def, ok := t.Workflow.Definition(id); ok {
				name = def.Name
			}
			assignee := ""
			if s.AssigneeID != nil {
				assignee = strconv.FormatInt(*s.AssigneeID, 10)
			}
			if err := setRow(f, StepsSheet, stepRow, []interface{}{
				t.ID, id, name, string(s.Status), assignee,
				formatTime(s.StartedAt), formatTime(s.CompletedAt), len(s.History),
			}); err != nil {
				return err
			}
			stepRow++
		}
	}

	if err := f.SetColWidth(TicketsSheet, "B", "B", 40); err != nil {
		return fmt.Errorf("column width: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []interface{}, style int) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// stepOrder lists step ids in frozen template order, then any step without a
// frozen definition by id.
func stepOrder(w *models.WorkflowState) []string {
	if w == nil {
		return nil
	}
	ids := make([]string, 0, len(w.Steps))
	seen := make(map[string]bool, len(w.Steps))
	for _, def := range w.Metadata.StepDefinitions {
		if _, ok := w.Steps[def.ID]; ok {
			ids = append(ids, def.ID)
			seen[def.ID] = true
		}
	}
	var rest []string
	for id := range w.Steps {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/officeflow/officeflow/internal/export"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/repository"
	"github.com/officeflow/officeflow/internal/service"
)

var ticketCmd = &cobra.Command{
	Use:     "ticket",
	Aliases: []string{"tickets"},
	Short:   "Create and work on tickets",
}

var createReq service.CreateTicketRequest

var ticketCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a ticket from a template",
	Args:  cobra.NoArgs,
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		t, err := a.ticketSvc.CreateTicket(ctx, actorID, createReq)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created ticket %d: %s\n", t.ID, t.Title)
		return nil
	}),
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Show a ticket with its steps and history",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		t, err := a.ticketSvc.GetTicket(ctx, actorID, id)
		if err != nil {
			return err
		}
		printTicket(cmd.OutOrStdout(), t, time.Now())
		return nil
	}),
}

var listFilter repository.TicketFilter
var listStatus string

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets, newest first",
	Args:  cobra.NoArgs,
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		listFilter.Status = models.TicketStatus(listStatus)
		list, err := a.ticketSvc.ListTickets(ctx, actorID, listFilter)
		if err != nil {
			return err
		}
		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tPROGRESS\tUPDATED")
		for _, t := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Status, t.Priority, progress(t), timeago.English.FormatReference(t.UpdatedAt, now))
		}
		return w.Flush()
	}),
}

var (
	stepFields []string
	draft      bool
)

var ticketAdvanceCmd = &cobra.Command{
	Use:   "advance <ticket-id> <step-id> <status>",
	Short: "Move a step to in_progress, completed or rejected",
	Long: `Move a step to a new status. With --field the form data is merged into
the step before it completes; with --draft the fields are saved and the
status argument is ignored.`,
	Args: cobra.ExactArgs(3),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		data, err := parseFields(stepFields)
		if err != nil {
			return err
		}
		stepID, to := args[1], models.StepStatus(args[2])

		var t *models.Ticket
		switch {
		case draft:
			t, err = a.ticketSvc.SaveStepForm(ctx, actorID, id, stepID, data)
		case to == models.StepCompleted && len(data) > 0:
			t, err = a.ticketSvc.SubmitStep(ctx, actorID, id, stepID, data)
		default:
			if len(data) > 0 {
				return fmt.Errorf("--field is only accepted when completing a step or with --draft")
			}
			t, err = a.ticketSvc.AdvanceStep(ctx, actorID, id, stepID, to)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ticket %d is %s, %s done\n", t.ID, t.Status, progress(t))
		return nil
	}),
}

var claim bool

var ticketAssignCmd = &cobra.Command{
	Use:   "assign <ticket-id> <step-id> [user-id]",
	Short: "Assign a step to a user, or claim it with --claim",
	Args:  cobra.RangeArgs(2, 3),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		assignee := actorID
		if !claim {
			if len(args) != 3 {
				return fmt.Errorf("user id is required unless --claim is set")
			}
			if assignee, err = parseID(args[2]); err != nil {
				return err
			}
		}
		if _, err := a.ticketSvc.AssignStep(ctx, actorID, id, args[1], assignee); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "step %s of ticket %d assigned to user %d\n", args[1], id, assignee)
		return nil
	}),
}

var ticketCommentCmd = &cobra.Command{
	Use:   "comment <ticket-id> <step-id> <text>",
	Short: "Add a comment to a step",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if _, err := a.ticketSvc.CommentStep(ctx, actorID, id, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "comment added")
		return nil
	}),
}

var ticketStatusCmd = &cobra.Command{
	Use:   "status <ticket-id> <status>",
	Short: "Set the ticket status (opened, in_progress, completed, closed)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		t, err := a.ticketSvc.SetStatus(ctx, actorID, id, models.TicketStatus(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ticket %d is %s\n", t.ID, t.Status)
		return nil
	}),
}

var purge bool

var ticketDeleteCmd = &cobra.Command{
	Use:   "delete <ticket-id>",
	Short: "Delete a ticket; tickets with history need --purge",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.ticketSvc.DeleteTicket(ctx, actorID, id, purge); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted ticket %d\n", id)
		return nil
	}),
}

var exportPath string

var ticketExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write tickets and step progress to an XLSX workbook",
	Args:  cobra.NoArgs,
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		listFilter.Status = models.TicketStatus(listStatus)
		list, err := a.ticketSvc.ListTickets(ctx, actorID, listFilter)
		if err != nil {
			return err
		}
		tmpls, err := a.tmplSvc.ListTemplates(ctx, actorID)
		if err != nil {
			return err
		}
		names := make(map[int64]string, len(tmpls))
		for _, t := range tmpls {
			names[t.ID] = t.Name
		}

		f, err := os.Create(exportPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportPath, err)
		}
		if err := export.WriteTickets(f, list, names); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", exportPath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tickets to %s\n", len(list), exportPath)
		return nil
	}),
}

func init() {
	ticketCreateCmd.Flags().Int64Var(&createReq.TemplateID, "template", 0, "template id")
	ticketCreateCmd.Flags().StringVar(&createReq.Title, "title", "", "title (default: rendered from the template title format)")
	ticketCreateCmd.Flags().StringVar(&createReq.Description, "description", "", "description")
	ticketCreateCmd.Flags().StringVar(&createReq.Priority, "priority", "", "priority (default: the template default)")
	_ = ticketCreateCmd.MarkFlagRequired("template")

	for _, c := range []*cobra.Command{ticketListCmd, ticketExportCmd} {
		c.Flags().Int64Var(&listFilter.TemplateID, "template", 0, "only tickets of this template")
		c.Flags().StringVar(&listStatus, "status", "", "only tickets with this status")
		c.Flags().Int64Var(&listFilter.CreatedBy, "created-by", 0, "only tickets created by this user")
		c.Flags().IntVar(&listFilter.Limit, "limit", models.DefaultListLimit, "maximum number of tickets")
		c.Flags().IntVar(&listFilter.Offset, "offset", 0, "tickets to skip")
	}
	ticketExportCmd.Flags().StringVarP(&exportPath, "out", "o", "tickets.xlsx", "output file")

	ticketAdvanceCmd.Flags().StringArrayVar(&stepFields, "field", nil, "form value as key=value; values parse as JSON when they can")
	ticketAdvanceCmd.Flags().BoolVar(&draft, "draft", false, "save the form without changing the status")
	ticketAssignCmd.Flags().BoolVar(&claim, "claim", false, "assign the step to yourself")
	ticketDeleteCmd.Flags().BoolVar(&purge, "purge", false, "delete even when the ticket has history")

	ticketCmd.AddCommand(ticketCreateCmd, ticketShowCmd, ticketListCmd, ticketAdvanceCmd, ticketAssignCmd,
		ticketCommentCmd, ticketStatusCmd, ticketDeleteCmd, ticketExportCmd)
}

func printTicket(out io.Writer, t *models.Ticket, now time.Time) {
	fmt.Fprintf(out, "#%d %s\n", t.ID, t.Title)
	fmt.Fprintf(out, "status %s, priority %s, created by %d %s\n", t.Status, t.Priority, t.CreatedBy,
		timeago.English.FormatReference(t.CreatedAt, now))
	if t.Description != "" {
		fmt.Fprintf(out, "\n%s\n", t.Description)
	}
	if t.Workflow == nil {
		return
	}
	fmt.Fprintf(out, "\nworkflow %s (%s done)\n", t.Workflow.Metadata.TemplateVersion, progress(t))
	for _, def := range t.Workflow.Metadata.StepDefinitions {
		s, ok := t.Workflow.Steps[def.ID]
		if !ok {
			continue
		}
		assignee := "unassigned"
		if s.AssigneeID != nil {
			assignee = fmt.Sprintf("user %d", *s.AssigneeID)
		}
		name := def.Name
		if name == "" {
			name = def.ID
		}
		fmt.Fprintf(out, "  [%s] %s (%s), %s\n", s.Status, name, def.ID, assignee)
		for _, h := range s.History {
			fmt.Fprintf(out, "      %s  %s\n", timeago.English.FormatReference(h.Timestamp, now), describe(h))
		}
	}
}

func describe(h models.HistoryEntry) string {
	who := "system"
	if h.UserID != nil {
		who = fmt.Sprintf("user %d", *h.UserID)
	}
	switch h.Type {
	case models.HistoryStatusChange:
		return fmt.Sprintf("%s: %s -> %s", who, h.From, h.To)
	case models.HistoryComment:
		return fmt.Sprintf("%s commented: %s", who, h.Content)
	case models.HistoryFormSaved:
		return fmt.Sprintf("%s saved the form", who)
	default:
		if h.Content != "" {
			return fmt.Sprintf("%s: %s", who, h.Content)
		}
		return fmt.Sprintf("%s: %s", who, h.Type)
	}
}

func progress(t *models.Ticket) string {
	if t.Workflow == nil {
		return "0/0"
	}
	done, total := t.Workflow.Progress()
	return fmt.Sprintf("%d/%d", done, total)
}

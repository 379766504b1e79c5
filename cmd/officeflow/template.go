package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/officeflow/officeflow/internal/templates"
)

var templateCmd = &cobra.Command{
	Use:     "template",
	Aliases: []string{"templates", "tmpl"},
	Short:   "Manage ticket templates",
}

var templateImportCmd = &cobra.Command{
	Use:   "import <file-or-dir>",
	Short: "Create or update templates from YAML files",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		list, err := templates.Load(args[0])
		if err != nil {
			return err
		}
		res, err := templates.NewImporter(a.tmplSvc, a.logger).Import(ctx, actorID, list)
		if res != nil {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created:   %s\n", joinOrDash(res.Created))
			fmt.Fprintf(out, "updated:   %s\n", joinOrDash(res.Updated))
			fmt.Fprintf(out, "unchanged: %s\n", joinOrDash(res.Unchanged))
		}
		return err
	}),
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		list, err := a.tmplSvc.ListTemplates(ctx, actorID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTEPS\tPRIORITY\tVERSION")
		for _, t := range list {
			mode := "sequential"
			if t.WorkflowConfig != nil && t.WorkflowConfig.ParallelExecution {
				mode = "parallel"
			}
			fmt.Fprintf(w, "%d\t%s\t%d (%s)\t%s\t%s\n", t.ID, t.Name, len(t.Workflow), mode, t.DefaultPriority, versionOf(t))
		}
		return w.Flush()
	}),
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <template-id>",
	Short: "Delete a template no ticket uses",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.tmplSvc.DeleteTemplate(ctx, actorID, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted template %d\n", id)
		return nil
	}),
}

func init() {
	templateCmd.AddCommand(templateImportCmd, templateListCmd, templateDeleteCmd)
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

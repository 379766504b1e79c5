package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/officeflow/officeflow/internal/models"
)

var roleCmd = &cobra.Command{
	Use:     "role",
	Aliases: []string{"roles"},
	Short:   "Manage roles and user bindings",
}

var bootstrapAdmin int64

var roleBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the admin role for a first user on an empty install",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		created, err := a.roleSvc.Bootstrap(ctx, bootstrapAdmin)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "user %d now holds the admin role\n", bootstrapAdmin)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "roles already exist; nothing to do")
		}
		return nil
	}),
}

var (
	rolePerms       []string
	roleDescription string
)

var roleCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		role := &models.Role{Name: args[0], Description: roleDescription, Permissions: rolePerms}
		if err := a.roleSvc.CreateRole(ctx, actorID, role); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created role %s (%d)\n", role.Name, role.ID)
		return nil
	}),
}

var roleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles",
	Args:  cobra.NoArgs,
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		roles, err := a.roleSvc.ListRoles(ctx, actorID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPERMISSIONS")
		for _, r := range roles {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, strings.Join(r.Permissions, ","))
		}
		return w.Flush()
	}),
}

var reportsTo int64

var roleGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <role>",
	Short: "Bind a user to a role",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		userID, err := parseID(args[0])
		if err != nil {
			return err
		}
		var sup *int64
		if reportsTo > 0 {
			sup = &reportsTo
		}
		if err := a.roleSvc.GrantRole(ctx, actorID, userID, args[1], sup); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d granted %s\n", userID, args[1])
		return nil
	}),
}

var roleRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id> <role>",
	Short: "Remove a user from a role",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		userID, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.roleSvc.RevokeRole(ctx, actorID, userID, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d revoked from %s\n", userID, args[1])
		return nil
	}),
}

var rolePermsCmd = &cobra.Command{
	Use:   "permissions <user-id>",
	Short: "Show the effective permissions of a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(false, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		userID, err := parseID(args[0])
		if err != nil {
			return err
		}
		perms, err := a.roleSvc.Permissions(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), joinOrDash(perms))
		return nil
	}),
}

func init() {
	roleBootstrapCmd.Flags().Int64Var(&bootstrapAdmin, "admin", 1, "user id to bind to the admin role")
	roleCreateCmd.Flags().StringSliceVar(&rolePerms, "perm", nil, "permission to grant (repeatable, e.g. ticket.create or *)")
	roleCreateCmd.Flags().StringVar(&roleDescription, "description", "", "role description")
	roleGrantCmd.Flags().Int64Var(&reportsTo, "reports-to", 0, "supervisor user id for this role")

	roleCmd.AddCommand(roleBootstrapCmd, roleCreateCmd, roleListCmd, roleGrantCmd, roleRevokeCmd, rolePermsCmd)
}

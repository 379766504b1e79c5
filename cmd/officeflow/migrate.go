package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/officeflow/officeflow/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: withApp(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
		if err := database.Migrate(ctx, a.db); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", a.cfg.Database.Driver)
		return nil
	}),
}

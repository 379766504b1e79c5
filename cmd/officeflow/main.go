package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/version"
)

var (
	cfgFile string
	actorID int64
)

var rootCmd = &cobra.Command{
	Use:   "officeflow",
	Short: "Office ticket workflow engine",
	Long: `officeflow runs office tickets (leave, expense, onboarding and the like)
through multi-step approval workflows defined by ticket templates.`,
	Version:       version.Get().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "officeflow %s\n", version.Get().Full())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: officeflow.yaml in ., ./config, /etc/officeflow)")
	rootCmd.PersistentFlags().Int64Var(&actorID, "as", 0, "id of the user performing the command")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(roleCmd)
	rootCmd.AddCommand(ticketCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct exit statuses for scripts.
func exitCode(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return 3
	case apperrors.KindValidation:
		return 4
	case apperrors.KindPermissionDenied:
		return 5
	case apperrors.KindIntegrity:
		return 6
	case apperrors.KindConflict:
		return 7
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

func requireActor() error {
	if actorID <= 0 {
		return errors.New("--as <user id> is required")
	}
	return nil
}

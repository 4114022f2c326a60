package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand, the long-lived scheduled mode.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawls on the configured schedule",
		Long: `Waits for schedule.start_time and crawls every schedule.repeating_period
until interrupted. Failed crawls are logged and retried at the next trigger;
only a record log that cannot be opened stops the process.`,
		RunE: runScheduleCommand,
	}
}

func runScheduleCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := appInstance.Run(ctx); err != nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	appInstance.GetLogger().Info("shutdown complete")
	return nil
}

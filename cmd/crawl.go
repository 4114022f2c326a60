// Package cmd defines and implements the CLI commands for the funddocs executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs a single crawl
// immediately and exits.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl now",
		Long: `Walks the catalog once, downloads new documents up to the configured
entry budget, and exits. The exit status is non-zero when the crawl failed.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := appInstance.CrawlOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.GetLogger().Info("crawl interrupted")
			return nil
		}
		return fmt.Errorf("crawl %s: %w", summary.RunID, err)
	}
	appInstance.GetLogger().Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("stored", summary.Counters.Stored()),
	)
	return nil
}

// Package cmd defines the CLI commands for the crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/clock/system"
	"github.com/JakeFAU/cne-results-crawler/internal/config"
	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/logging"
	"github.com/JakeFAU/cne-results-crawler/internal/runlog"
)

// localClock stamps the run history in local time.
var localClock crawler.Clock = system.NewLocal()

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one full crawl",
		Long: `Traverses every configured department, persists each polling station
not already stored, and appends the outcome to the run history file. An
interrupt (Ctrl-C or SIGTERM) stops the run and is recorded as
USER_INTERRUPTED.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	started := localClock.Now()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := logging.NewWithAuditFile(cfg.Logging.Development, cfg.Logging.AuditFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = closeLog() }() //nolint:errcheck // nothing left to report to

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := crawl(ctx, cfg, logger)

	finished := localClock.Now()
	elapsed := finished.Sub(started)
	status := runlog.Classify(runErr)
	if err := runlog.Append(cfg.RunLog.HistoryFile, finished, elapsed, status); err != nil {
		logger.Error("failed to record run history", zap.String("path", cfg.RunLog.HistoryFile), zap.Error(err))
	}
	runlog.Banner(cmd.OutOrStdout(), elapsed, status)

	if status.IsError() {
		return runErr
	}
	return nil
}

func crawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("error during shutdown", zap.Error(err))
		}
	}()

	summary, err := a.Run(ctx)
	logger.Info("crawl summary",
		zap.String("run_id", summary.RunID),
		zap.Int("stations_discovered", summary.Navigator.Stations),
		zap.Int("stations_enqueued", summary.Navigator.Enqueued),
		zap.Int64("persisted", summary.Stations.Persisted),
		zap.Int64("skipped", summary.Stations.Skipped),
		zap.Int64("dropped", summary.Stations.Dropped),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return err
}

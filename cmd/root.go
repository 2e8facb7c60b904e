package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/app"
	"github.com/JakeFAU/cne-results-crawler/internal/config"
	"github.com/JakeFAU/cne-results-crawler/internal/engine"
)

// version is overridden at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var cfgFile string

// Runner is the part of the application the commands drive.
type Runner interface {
	Run(ctx context.Context) (engine.Summary, error)
	Close() error
}

// newApp is the application factory. It is a variable so tests can swap in a
// fake runner.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cne-crawler",
		Short: "Collects per-station election results from the CNE results API.",
		Long: `cne-crawler walks the department, municipality, zone, center, and
polling station hierarchy of the CNE results API, builds one record per
station, downloads its scanned tally sheet and party logos, and stores the
records so that later runs only fetch what is new.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml); environment variables use the CRAWLER_ prefix")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Package cmd defines and implements the CLI commands for the pagewatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/config"
	"github.com/JakeFAU/pagewatch/internal/jobmonitor"
	"github.com/JakeFAU/pagewatch/internal/logging"
	"github.com/JakeFAU/pagewatch/internal/server"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Targets is the change monitor surface used by the target commands.
type Targets interface {
	Track(ctx context.Context, url string, interval time.Duration) (tracker.TrackedTarget, error)
	Untrack(ctx context.Context, url string) (bool, error)
	List() []string
	Check(ctx context.Context, url string, force bool) (*tracker.ChangeRecord, error)
	CheckAll(ctx context.Context, force bool) tracker.CycleReport
	MonitorContinuously(ctx context.Context, interval time.Duration, stop tracker.StopCondition) (tracker.MonitorReport, error)
	History(url string, limit int) []tracker.ChangeRecord
	Stats() tracker.TrackingStats
}

// JobRunner submits jobs and watches them to completion.
type JobRunner interface {
	SubmitAndWatch(ctx context.Context, spec tracker.JobSpec, handlers jobmonitor.Handlers) (tracker.JobResult, error)
	WatchAll(ctx context.Context, jobIDs []string, handlers jobmonitor.Handlers) ([]tracker.JobResult, error)
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Targets() Targets
	Jobs() JobRunner
	Start(ctx context.Context)
	Run(ctx context.Context) error
	Close(ctx context.Context)
}

type builtApp struct {
	*server.App
}

func (a builtApp) Targets() Targets { return a.Monitor }
func (a builtApp) Jobs() JobRunner  { return a.App.Jobs }

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger, server.Options{})
	if err != nil {
		return nil, err
	}
	return builtApp{App: app}, nil
}

type rootOptions struct {
	cfgFile string
	logger  *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "pagewatch",
		Short: "Track web pages for content changes and watch fetch jobs.",
		Long: `pagewatch fingerprints tracked URLs on a schedule, records every content
change with a rendered diff, and submits crawl or batch-scrape jobs while
reporting their progress until they finish.`,
		SilenceUsage: true,

		// Builds the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
				Compress:    cfg.Logging.Compress,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.logger = logger

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Shuts services down after the subcommand finished.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newServeCmd(),
		newTrackCmd(),
		newUntrackCmd(),
		newListCmd(),
		newCheckCmd(),
		newMonitorCmd(),
		newHistoryCmd(),
		newStatsCmd(),
		newCrawlCmd(),
		newWatchCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

func newTrackCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "track URL",
		Short: "Start tracking a URL for content changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = -1
			}
			target, err := app.Targets().Track(cmd.Context(), args[0], interval)
			if err != nil {
				return fmt.Errorf("track %s: %w", args[0], err)
			}
			printf(cmd.OutOrStdout(), "tracking %s every %s\n", target.URL, target.CheckInterval)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", tracker.DefaultCheckInterval, "minimum time between checks (0 checks every cycle)")
	return cmd
}

func newUntrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untrack URL",
		Short: "Stop tracking a URL and delete its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := app.Targets().Untrack(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("untrack %s: %w", args[0], err)
			}
			if !removed {
				printf(cmd.OutOrStdout(), "%s was not tracked\n", args[0])
				return nil
			}
			printf(cmd.OutOrStdout(), "untracked %s\n", args[0])
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, url := range app.Targets().List() {
				printf(cmd.OutOrStdout(), "%s\n", url)
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "check [URL]",
		Short: "Check one URL, or every tracked URL, for changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				report := app.Targets().CheckAll(cmd.Context(), force)
				printf(out, "checked %d, skipped %d, failed %d, changes %d\n",
					report.Checked, report.Skipped, report.Failed, len(report.Changes))
				for _, change := range report.Changes {
					printChange(cmd, change)
				}
				return nil
			}
			change, err := app.Targets().Check(cmd.Context(), args[0], force)
			if err != nil {
				return fmt.Errorf("check %s: %w", args[0], err)
			}
			if change == nil {
				printf(out, "no change detected for %s\n", args[0])
				return nil
			}
			printChange(cmd, *change)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "check even if the interval has not elapsed")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	var (
		interval time.Duration
		cycles   int
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Check every tracked URL repeatedly until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cond := tracker.Unbounded()
			if cycles > 0 {
				cond = tracker.Bounded(cycles)
			}
			report, err := app.Targets().MonitorContinuously(ctx, interval, cond)
			if err != nil {
				return fmt.Errorf("monitor: %w", err)
			}
			printf(cmd.OutOrStdout(), "cycles %d, checked %d, failed %d, changes %d\n",
				report.Cycles, report.Checked, report.Failed, report.Changes)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between cycles (defaults to monitor.cycle_interval)")
	cmd.Flags().IntVar(&cycles, "cycles", 0, "stop after this many cycles (0 runs until interrupted)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history URL",
		Short: "Show detected changes for a URL, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			changes := app.Targets().History(args[0], limit)
			if len(changes) == 0 {
				printf(cmd.OutOrStdout(), "no changes recorded for %s\n", args[0])
				return nil
			}
			for _, change := range changes {
				printChange(cmd, change)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", tracker.DefaultHistoryLimit, "maximum number of changes to show")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize tracked URLs and detected changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats := app.Targets().Stats()
			out := cmd.OutOrStdout()
			printf(out, "tracked %d, changes %d, urls with changes %d\n",
				stats.TotalTracked, stats.TotalChangesDetected, stats.TargetsWithChanges)
			for _, t := range stats.Targets {
				last := "never"
				if t.LastChecked != nil {
					last = t.LastChecked.Format(time.RFC3339)
				}
				printf(out, "  %s  changes=%d  last_checked=%s\n", t.URL, t.ChangeCount, last)
			}
			return nil
		},
	}
}

func printChange(cmd *cobra.Command, change tracker.ChangeRecord) {
	printf(cmd.OutOrStdout(), "%s  %s  %s -> %s  %s\n",
		change.DetectedAt.Format(time.RFC3339),
		change.URL,
		shortHash(change.PreviousFingerprint),
		shortHash(change.CurrentFingerprint),
		change.DiffSummary,
	)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

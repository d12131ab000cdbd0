package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagewatch/internal/jobmonitor"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
// It submits a crawl job, or a batch scrape when --batch is set, and reports
// progress until the job finishes or the command is interrupted.
func newCrawlCmd() *cobra.Command {
	var (
		limit   int
		batch   bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "crawl URL [URL...]",
		Short: "Submit a crawl or batch scrape job and watch it to completion",
		Long: `Submits a job to the configured job backend (the hosted scraping API or the
local worker pool) and polls it until it reaches a terminal state. A single
URL starts a crawl; --batch scrapes every given URL instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !batch && len(args) > 1 {
				return errors.New("a crawl takes exactly one URL; use --batch for several")
			}
			spec := tracker.JobSpec{Kind: tracker.JobKindCrawl, URL: args[0], Limit: limit}
			if batch {
				spec = tracker.JobSpec{Kind: tracker.JobKindBatch, URLs: args}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			app.Start(ctx)

			result, err := app.Jobs().SubmitAndWatch(ctx, spec, jobHandlers(cmd, verbose))
			if result.JobID == "" {
				return fmt.Errorf("submit job: %w", err)
			}
			printResult(cmd, result)
			if err != nil {
				return fmt.Errorf("watch job: %w", err)
			}
			if !result.Success {
				return fmt.Errorf("job %s finished with status %s", result.JobID, result.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum pages to crawl (0 uses the service default)")
	cmd.Flags().BoolVar(&batch, "batch", false, "scrape every URL argument instead of crawling one")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each document as it arrives")
	return cmd
}

// newWatchCmd creates the 'watch' subcommand, which follows jobs that were
// submitted earlier until every one of them finishes.
func newWatchCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "watch JOB_ID [JOB_ID...]",
		Short: "Watch previously submitted jobs until they finish",
		Long: `Polls every given job concurrently and prints one summary line per job.
With the http backend, jobs this process did not submit are polled as crawls.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			app.Start(ctx)

			results, err := app.Jobs().WatchAll(ctx, args, jobHandlers(cmd, verbose))
			failed := 0
			for _, result := range results {
				if result.JobID == "" {
					continue
				}
				printResult(cmd, result)
				if !result.Success {
					failed++
				}
			}
			if err != nil {
				return fmt.Errorf("watch jobs: %w", err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs did not complete", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each document as it arrives")
	return cmd
}

func jobHandlers(cmd *cobra.Command, verbose bool) jobmonitor.Handlers {
	handlers := jobmonitor.Handlers{
		Error: jobmonitor.ErrorHandlerFunc(func(_ context.Context, info jobmonitor.JobError) error {
			printf(cmd.ErrOrStderr(), "job %s %s: %s\n", info.JobID, info.Status, info.Message)
			return nil
		}),
	}
	if verbose {
		handlers.Item = jobmonitor.ItemHandlerFunc(func(_ context.Context, item tracker.JobItem) error {
			printf(cmd.OutOrStdout(), "document %s\n", item.IdentityKey)
			return nil
		})
	}
	return handlers
}

func printResult(cmd *cobra.Command, result tracker.JobResult) {
	printf(cmd.OutOrStdout(), "job %s %s: %d/%d completed, %d failed, %d documents, %d credits, %s\n",
		result.JobID, result.Status, result.Completed, result.Total, result.Failed,
		len(result.Documents), result.CostUsed, result.Elapsed.Round(time.Millisecond))
}

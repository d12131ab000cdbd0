// Package worker executes in-process fetch jobs pulled from the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives one message per produced document when a publisher is set.
	Topic string
}

// Worker consumes queue items and fetches every seed URL of the job.
type Worker struct {
	queue     tracker.Queue
	jobStore  tracker.JobStore
	fetcher   tracker.ContentFetcher
	publisher tracker.Publisher
	hasher    tracker.Hasher
	clock     tracker.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	queue tracker.Queue,
	jobStore tracker.JobStore,
	fetcher tracker.ContentFetcher,
	publisher tracker.Publisher,
	hasher tracker.Hasher,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		fetcher:   fetcher,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, tracker.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item tracker.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	seeds := item.Spec.Seeds()
	update := tracker.JobUpdate{Status: tracker.JobStatusRunning, Total: len(seeds)}
	if w.fetcher == nil {
		w.logger.Error("no fetcher configured", zap.String("job_id", item.JobID))
		update.Status = tracker.JobStatusFailed
		update.ErrorText = "no fetcher configured"
		w.finish(ctx, item.JobID, update)
		return
	}
	if err := w.jobStore.UpdateJob(ctx, item.JobID, update); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	for _, url := range seeds {
		if ctx.Err() != nil {
			break
		}
		if w.cancelled(ctx, item.JobID) {
			w.logger.Info("job cancelled, skipping remaining urls", zap.String("job_id", item.JobID))
			return
		}
		if err := w.handleURL(ctx, item.JobID, url); err != nil {
			update.Failed++
			update.ErrorText = err.Error()
		} else {
			update.Completed++
		}
		if err := w.jobStore.UpdateJob(ctx, item.JobID, update); err != nil {
			w.logger.Error("update job progress failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}

	update.Status, update.ErrorText = deriveFinalStatus(ctx, update)
	w.finish(ctx, item.JobID, update)
}

// cancelled reports whether the job was cancelled out from under the worker.
func (w *Worker) cancelled(ctx context.Context, jobID string) bool {
	job, err := w.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == tracker.JobStatusCancelled
}

// finish records the terminal state even when ctx has been cancelled.
func (w *Worker) finish(ctx context.Context, jobID string, update tracker.JobUpdate) {
	if err := w.jobStore.UpdateJob(context.WithoutCancel(ctx), jobID, update); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveLocalJob(string(update.Status))
	w.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(update.Status)),
		zap.Int("completed", update.Completed),
		zap.Int("failed", update.Failed),
	)
}

func (w *Worker) handleURL(ctx context.Context, jobID, url string) error {
	result, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		w.logger.Error("fetch failed", zap.String("job_id", jobID), zap.String("url", url), zap.Error(err))
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if !result.Success {
		w.logger.Warn("fetch failed", zap.String("job_id", jobID), zap.String("url", url), zap.String("reason", result.Error))
		return fmt.Errorf("fetch %s: %s", url, result.Error)
	}

	hash, err := w.hasher.Hash([]byte(result.Content))
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	fetchedAt := w.clock.Now()
	item := tracker.JobItem{
		IdentityKey: url,
		Payload: map[string]any{
			"url":      url,
			"markdown": result.Content,
			"metadata": map[string]any{
				"sourceURL":   url,
				"contentHash": hash,
				"fetchedAt":   fetchedAt.Format(time.RFC3339),
			},
		},
	}
	if err := w.jobStore.RecordItem(ctx, jobID, item); err != nil {
		return fmt.Errorf("record item: %w", err)
	}
	w.logger.Debug("page processed", zap.String("job_id", jobID), zap.String("url", url))
	if err := w.publishResult(ctx, jobID, url, hash, fetchedAt); err != nil {
		w.logger.Warn("publish page failed", zap.String("job_id", jobID), zap.String("url", url), zap.Error(err))
	}
	return nil
}

func (w *Worker) publishResult(ctx context.Context, jobID, url, hash string, fetchedAt time.Time) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":    jobID,
		"url":       url,
		"hash":      hash,
		"timestamp": fetchedAt.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("page published",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.String("hash", hash),
	)
	return nil
}

func deriveFinalStatus(ctx context.Context, update tracker.JobUpdate) (tracker.JobStatus, string) {
	errText := update.ErrorText
	if update.Completed == 0 && errText == "" {
		errText = "no pages were fetched"
	}
	switch {
	case ctx.Err() != nil:
		return tracker.JobStatusCancelled, errText
	case update.Completed == 0:
		return tracker.JobStatusFailed, errText
	default:
		return tracker.JobStatusCompleted, errText
	}
}

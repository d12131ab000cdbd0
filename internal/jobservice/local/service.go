// Package local implements tracker.JobService in-process: submitted jobs are
// queued and executed by a worker pool using the configured content fetcher.
package local

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// Enqueuer accepts runnable jobs; dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item tracker.QueueItem) error
}

// Service submits jobs to an in-process queue and reports their state from
// the job store.
type Service struct {
	queue  Enqueuer
	store  tracker.JobStore
	ids    tracker.IDGenerator
	clock  tracker.Clock
	logger *zap.Logger
}

// New constructs a Service.
func New(
	queue Enqueuer,
	store tracker.JobStore,
	ids tracker.IDGenerator,
	clock tracker.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: queue, store: store, ids: ids, clock: clock, logger: logger}
}

// Submit records a pending job and queues it for the workers.
func (s *Service) Submit(ctx context.Context, spec tracker.JobSpec) (string, error) {
	seeds := spec.Seeds()
	if len(seeds) == 0 {
		return "", errors.New("job has no urls")
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	submitted := s.clock.Now()
	job := tracker.Job{
		ID:        jobID,
		Spec:      spec,
		Status:    tracker.JobStatusPending,
		Submitted: submitted,
		Total:     len(seeds),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, tracker.QueueItem{JobID: jobID, Spec: spec, Submitted: submitted}); err != nil {
		if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), jobID, tracker.JobUpdate{
			Status:    tracker.JobStatusFailed,
			ErrorText: err.Error(),
			Total:     len(seeds),
		}); uerr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("job queued", zap.String("job_id", jobID), zap.Int("urls", len(seeds)))
	return jobID, nil
}

// Status reports the job's current state and every document produced so far.
func (s *Service) Status(ctx context.Context, jobID string) (tracker.JobStatusReport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return tracker.JobStatusReport{}, fmt.Errorf("get job: %w", err)
	}
	return tracker.JobStatusReport{
		Status:    job.Status,
		Total:     job.Total,
		Completed: job.Completed,
		Failed:    job.Failed,
		Items:     slices.Clone(job.Items),
	}, nil
}

// Cancel marks a job cancelled. Workers stop before the next seed URL and
// cancelling a finished job is a no-op.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if err := s.store.UpdateJob(ctx, jobID, tracker.JobUpdate{
		Status:    tracker.JobStatusCancelled,
		ErrorText: "cancelled by request",
		Total:     job.Total,
		Completed: job.Completed,
		Failed:    job.Failed,
	}); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	s.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

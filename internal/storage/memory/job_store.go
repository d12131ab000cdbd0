package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]tracker.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]tracker.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job tracker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob updates the status and counters for a job. Terminal jobs are
// not modified further.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update tracker.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", tracker.ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = update.Status
	job.ErrorText = update.ErrorText
	job.Total = update.Total
	job.Completed = update.Completed
	job.Failed = update.Failed
	now := time.Now().UTC()
	if update.Status == tracker.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if update.Status.IsTerminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordItem appends a produced document to a job.
func (s *JobStore) RecordItem(_ context.Context, jobID string, item tracker.JobItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", tracker.ErrJobNotFound, jobID)
	}
	job.Items = append(job.Items, item)
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a copy of a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (tracker.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return tracker.Job{}, fmt.Errorf("%w: %s", tracker.ErrJobNotFound, jobID)
	}
	job.Items = append([]tracker.JobItem(nil), job.Items...)
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

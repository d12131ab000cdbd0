package tracker

import (
	"context"
	"time"
)

// ContentFetcher retrieves the textual content of a URL. Ordinary fetch
// failures are reported through FetchResult rather than the error return.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// JobService submits asynchronous fetch jobs and reports their status.
type JobService interface {
	Submit(ctx context.Context, spec JobSpec) (string, error)
	Status(ctx context.Context, jobID string) (JobStatusReport, error)
}

// JobCanceler stops a submitted job. Unknown jobs yield ErrJobNotFound.
type JobCanceler interface {
	Cancel(ctx context.Context, jobID string) error
}

// RecordStore persists one full record per tracked target.
type RecordStore interface {
	Save(ctx context.Context, target TrackedTarget) error
	Delete(ctx context.Context, url string) error
	LoadAll(ctx context.Context) ([]TrackedTarget, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until ctx ends, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue provides enqueue/dequeue semantics for in-process jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// JobStore persists in-process job state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	RecordItem(ctx context.Context, jobID string, item JobItem) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Spec      JobSpec
	Submitted time.Time
}

// Job is the in-process representation of a submitted job.
type Job struct {
	ID        string     `json:"id"`
	Spec      JobSpec    `json:"spec"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Items     []JobItem  `json:"items,omitempty"`
}

// JobUpdate carries the mutable fields of a Job.
type JobUpdate struct {
	Status    JobStatus
	ErrorText string
	Total     int
	Completed int
	Failed    int
}

package jobmonitor

import (
	"context"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// JobError describes a failed job or a failed status query.
type JobError struct {
	JobID   string            `json:"job_id"`
	Status  tracker.JobStatus `json:"status"`
	Message string            `json:"message"`
}

// ItemHandler receives each newly seen job document.
type ItemHandler interface {
	OnItem(ctx context.Context, item tracker.JobItem) error
}

// ProgressHandler receives the completed/total counts whenever completed changes.
type ProgressHandler interface {
	OnProgress(ctx context.Context, completed, total int) error
}

// ErrorHandler receives job failures and status query errors.
type ErrorHandler interface {
	OnError(ctx context.Context, info JobError) error
}

// CompleteHandler receives the final progress once the job is terminal.
type CompleteHandler interface {
	OnComplete(ctx context.Context, progress Progress) error
}

// ItemHandlerFunc adapts a function to ItemHandler.
type ItemHandlerFunc func(ctx context.Context, item tracker.JobItem) error

// OnItem implements ItemHandler.
func (f ItemHandlerFunc) OnItem(ctx context.Context, item tracker.JobItem) error {
	return f(ctx, item)
}

// ProgressHandlerFunc adapts a function to ProgressHandler.
type ProgressHandlerFunc func(ctx context.Context, completed, total int) error

// OnProgress implements ProgressHandler.
func (f ProgressHandlerFunc) OnProgress(ctx context.Context, completed, total int) error {
	return f(ctx, completed, total)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, info JobError) error

// OnError implements ErrorHandler.
func (f ErrorHandlerFunc) OnError(ctx context.Context, info JobError) error {
	return f(ctx, info)
}

// CompleteHandlerFunc adapts a function to CompleteHandler.
type CompleteHandlerFunc func(ctx context.Context, progress Progress) error

// OnComplete implements CompleteHandler.
func (f CompleteHandlerFunc) OnComplete(ctx context.Context, progress Progress) error {
	return f(ctx, progress)
}

// Handlers groups the optional callbacks of one Watch call. Nil fields are
// skipped.
type Handlers struct {
	Item     ItemHandler
	Progress ProgressHandler
	Error    ErrorHandler
	Complete CompleteHandler
}

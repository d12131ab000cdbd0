package jobmonitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pagewatch/internal/progress"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

const (
	// DefaultPollInterval is used when neither Config nor the caller sets one.
	DefaultPollInterval = 2 * time.Second
	tracerName          = "github.com/JakeFAU/pagewatch/internal/jobmonitor"
)

// Config controls Monitor behavior.
type Config struct {
	PollInterval time.Duration
	// ShowProgressBar renders a terminal progress bar for every watched job.
	ShowProgressBar bool
	// Output receives the progress bar; defaults to os.Stderr.
	Output io.Writer
}

// Monitor polls a job service until jobs reach a terminal state.
type Monitor struct {
	service tracker.JobService
	clock   tracker.Clock
	sleeper tracker.Sleeper
	emitter progress.Emitter
	tracer  trace.Tracer
	cfg     Config
	logger  *zap.Logger

	mu     sync.RWMutex
	active map[string]*Progress
}

// New constructs a Monitor. emitter may be nil.
func New(
	service tracker.JobService,
	clock tracker.Clock,
	sleeper tracker.Sleeper,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Monitor{
		service: service,
		clock:   clock,
		sleeper: sleeper,
		emitter: emitter,
		tracer:  otel.Tracer(tracerName),
		cfg:     cfg,
		logger:  logger,
		active:  make(map[string]*Progress),
	}
}

// Submit starts a job without watching it.
func (m *Monitor) Submit(ctx context.Context, spec tracker.JobSpec) (string, error) {
	jobID, err := m.service.Submit(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("submit %s job: %w", spec.Kind, err)
	}
	m.logger.Info("job submitted", zap.String("job_id", jobID), zap.String("kind", string(spec.Kind)))
	return jobID, nil
}

// SubmitAndWatch submits spec and watches the resulting job. Batch jobs start
// with Total set to the number of submitted URLs.
func (m *Monitor) SubmitAndWatch(
	ctx context.Context,
	spec tracker.JobSpec,
	handlers Handlers,
) (tracker.JobResult, error) {
	jobID, err := m.Submit(ctx, spec)
	if err != nil {
		return tracker.JobResult{}, err
	}
	total := 0
	if spec.Kind == tracker.JobKindBatch {
		total = len(spec.URLs)
	}
	return m.watch(ctx, jobID, total, handlers, m.cfg.PollInterval)
}

// Watch polls jobID every pollInterval until it is terminal. A non-positive
// pollInterval selects the configured default. Status query failures are
// reported through handlers.Error and retried; only ctx ends the loop early,
// in which case the partial result is returned with the wrapped ctx error.
func (m *Monitor) Watch(
	ctx context.Context,
	jobID string,
	handlers Handlers,
	pollInterval time.Duration,
) (tracker.JobResult, error) {
	return m.watch(ctx, jobID, 0, handlers, pollInterval)
}

// WatchAll watches every job concurrently and returns results in input order.
func (m *Monitor) WatchAll(ctx context.Context, jobIDs []string, handlers Handlers) ([]tracker.JobResult, error) {
	results := make([]tracker.JobResult, len(jobIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, jobID := range jobIDs {
		g.Go(func() error {
			result, err := m.watch(gctx, jobID, 0, handlers, m.cfg.PollInterval)
			results[i] = result
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Progress returns a copy of the live progress of a job being watched.
func (m *Monitor) Progress(jobID string) (Progress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.active[jobID]
	if !ok {
		return Progress{}, false
	}
	return p.snapshot(), true
}

// Active lists the IDs of jobs currently being watched.
func (m *Monitor) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

func (m *Monitor) watch(
	ctx context.Context,
	jobID string,
	total int,
	handlers Handlers,
	pollInterval time.Duration,
) (tracker.JobResult, error) {
	if pollInterval <= 0 {
		pollInterval = m.cfg.PollInterval
	}
	ctx, span := m.tracer.Start(ctx, "jobmonitor.Watch", trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	p := NewProgress(jobID, total, m.clock.Now())
	m.mu.Lock()
	m.active[jobID] = p
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, jobID)
		m.mu.Unlock()
	}()

	var bar *ProgressBar
	if m.cfg.ShowProgressBar {
		bar = NewProgressBar(m.cfg.Output, "Job "+jobID)
	}
	log := m.logger.With(zap.String("job_id", jobID))
	log.Info("watching job", zap.Duration("poll_interval", pollInterval))
	m.emitter.Emit(progress.Event{Stage: progress.StageJobStart, JobID: jobID, Total: total})

	seen := make(map[string]struct{})
	lastCompleted := 0
	for {
		report, err := m.service.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return m.stop(ctx, span, p)
			}
			log.Warn("job status query failed", zap.Error(err))
			m.reportError(ctx, handlers.Error, JobError{JobID: jobID, Status: p.Status, Message: err.Error()}, log)
		} else {
			fresh := m.apply(p, report, seen, log)
			for _, item := range fresh {
				m.deliverItem(ctx, handlers.Item, item, log)
			}
			if p.Completed != lastCompleted {
				lastCompleted = p.Completed
				m.deliverProgress(ctx, handlers.Progress, p.Completed, p.Total, log)
				m.emitter.Emit(progress.Event{
					Stage:     progress.StageJobProgress,
					JobID:     jobID,
					Completed: p.Completed,
					Total:     p.Total,
				})
				if bar != nil {
					bar.Update(p.Completed, p.Total, p.Elapsed(m.clock.Now()))
				}
			}
			if p.Status.IsTerminal() {
				return m.finish(ctx, span, p, handlers, bar, log), nil
			}
		}

		if err := m.sleeper.Sleep(ctx, pollInterval); err != nil {
			return m.stop(ctx, span, p)
		}
	}
}

// apply folds report into p under the monitor lock and returns the items not
// seen before in this watch. Items without an identity key are dropped.
func (m *Monitor) apply(
	p *Progress,
	report tracker.JobStatusReport,
	seen map[string]struct{},
	log *zap.Logger,
) []tracker.JobItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Apply(report)
	var fresh []tracker.JobItem
	for _, item := range report.Items {
		key := item.IdentityKey
		if key == "" {
			key = tracker.ItemIdentity(item.Payload)
		}
		if key == "" {
			log.Debug("dropping job item without identity")
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		item.IdentityKey = key
		p.Documents = append(p.Documents, item)
		fresh = append(fresh, item)
	}
	return fresh
}

func (m *Monitor) finish(
	ctx context.Context,
	span trace.Span,
	p *Progress,
	handlers Handlers,
	bar *ProgressBar,
	log *zap.Logger,
) tracker.JobResult {
	now := m.clock.Now()
	if p.Status == tracker.JobStatusFailed {
		m.reportError(ctx, handlers.Error, JobError{
			JobID:   p.JobID,
			Status:  tracker.JobStatusFailed,
			Message: "job failed",
		}, log)
	}
	if bar != nil {
		bar.Complete(p.Completed, p.Elapsed(now))
	}
	m.deliverComplete(ctx, handlers.Complete, p.snapshot(), log)

	result := p.Result(now)
	stage := progress.StageJobDone
	if !result.Success {
		stage = progress.StageJobError
		span.SetStatus(codes.Error, "job "+string(result.Status))
	}
	m.emitter.Emit(progress.Event{
		Stage:     stage,
		JobID:     p.JobID,
		Completed: len(result.Documents),
		Total:     result.Total,
		Dur:       max(result.Elapsed, 0),
		Note:      string(result.Status),
	})
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("documents", len(result.Documents)),
	)
	log.Info("job finished",
		zap.String("status", string(result.Status)),
		zap.Int("completed", result.Completed),
		zap.Int("total", result.Total),
		zap.Int("documents", len(result.Documents)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result
}

func (m *Monitor) stop(ctx context.Context, span trace.Span, p *Progress) (tracker.JobResult, error) {
	err := ctx.Err()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.logger.Info("stopped watching job", zap.String("job_id", p.JobID), zap.Error(err))
	m.mu.RLock()
	result := p.Result(m.clock.Now())
	m.mu.RUnlock()
	return result, fmt.Errorf("watch job %s: %w", p.JobID, err)
}

func (m *Monitor) deliverItem(ctx context.Context, h ItemHandler, item tracker.JobItem, log *zap.Logger) {
	if h == nil {
		return
	}
	guard(log, "item", func() error { return h.OnItem(ctx, item) })
}

func (m *Monitor) deliverProgress(ctx context.Context, h ProgressHandler, completed, total int, log *zap.Logger) {
	if h == nil {
		return
	}
	guard(log, "progress", func() error { return h.OnProgress(ctx, completed, total) })
}

func (m *Monitor) reportError(ctx context.Context, h ErrorHandler, info JobError, log *zap.Logger) {
	if h == nil {
		return
	}
	guard(log, "error", func() error { return h.OnError(ctx, info) })
}

func (m *Monitor) deliverComplete(ctx context.Context, h CompleteHandler, p Progress, log *zap.Logger) {
	if h == nil {
		return
	}
	guard(log, "complete", func() error { return h.OnComplete(ctx, p) })
}

// guard runs a handler, logging its error and recovering its panic.
func guard(log *zap.Logger, name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job handler panicked", zap.String("handler", name), zap.Any("panic", rec))
		}
	}()
	if err := fn(); err != nil {
		log.Warn("job handler failed", zap.String("handler", name), zap.Error(err))
	}
}

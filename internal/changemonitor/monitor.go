// Package changemonitor drives due checks over the tracked targets: it
// fetches content, runs change detection, persists the outcome, and notifies
// the registered change handler.
package changemonitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/progress"
	"github.com/JakeFAU/pagewatch/internal/registry"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

const (
	defaultCycleInterval = time.Hour
	tracerName           = "github.com/JakeFAU/pagewatch/internal/changemonitor"
)

// Detector turns fetched content into a snapshot and an optional change.
type Detector interface {
	Detect(target tracker.TrackedTarget, content string) (tracker.Snapshot, *tracker.ChangeRecord, error)
}

// Config controls Monitor behavior.
type Config struct {
	// DefaultInterval is used when Check auto-tracks an unknown URL.
	DefaultInterval time.Duration
	// CycleInterval is the pause between MonitorContinuously cycles when the
	// caller passes a non-positive interval.
	CycleInterval time.Duration
}

// Monitor checks tracked targets for content changes.
type Monitor struct {
	registry *registry.Registry
	fetcher  tracker.ContentFetcher
	detector Detector
	clock    tracker.Clock
	sleeper  tracker.Sleeper
	handler  ChangeHandler
	emitter  progress.Emitter
	tracer   trace.Tracer
	cfg      Config
	logger   *zap.Logger
	locks    targetLocks
}

// New constructs a Monitor. handler and emitter may be nil.
func New(
	reg *registry.Registry,
	fetcher tracker.ContentFetcher,
	detector Detector,
	clock tracker.Clock,
	sleeper tracker.Sleeper,
	handler ChangeHandler,
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
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = tracker.DefaultCheckInterval
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}
	return &Monitor{
		registry: reg,
		fetcher:  fetcher,
		detector: detector,
		clock:    clock,
		sleeper:  sleeper,
		handler:  handler,
		emitter:  emitter,
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg,
		logger:   logger,
	}
}

// outcome classifies one check for cycle reporting.
type outcome int

const (
	outcomeChecked outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Track starts tracking url; see registry.Registry.Track. A negative interval
// selects the configured default.
func (m *Monitor) Track(ctx context.Context, url string, interval time.Duration) (tracker.TrackedTarget, error) {
	if interval < 0 {
		interval = m.cfg.DefaultInterval
	}
	target, _, err := m.registry.Track(ctx, url, interval)
	return target, err
}

// Untrack stops tracking url and reports whether it was tracked. It waits for
// an in-flight check of url to finish.
func (m *Monitor) Untrack(ctx context.Context, url string) (bool, error) {
	unlock := m.locks.lock(url)
	defer unlock()
	return m.registry.Untrack(ctx, url)
}

// List returns every tracked URL.
func (m *Monitor) List() []string {
	return m.registry.List()
}

// Check fetches url when it is due (or force is set) and returns the change
// record when the content fingerprint moved. Untracked URLs are tracked with
// the default interval first. A failed fetch returns (nil, nil) and leaves the
// target untouched so the next due check retries it. Persistence failures are
// returned. Checks of the same URL run one at a time, so every reported change
// is also persisted.
func (m *Monitor) Check(ctx context.Context, url string, force bool) (*tracker.ChangeRecord, error) {
	change, _, err := m.check(ctx, url, force)
	return change, err
}

func (m *Monitor) check(ctx context.Context, url string, force bool) (*tracker.ChangeRecord, outcome, error) {
	ctx, span := m.tracer.Start(ctx, "changemonitor.Check",
		trace.WithAttributes(attribute.String("url", url), attribute.Bool("force", force)))
	defer span.End()

	unlock := m.locks.lock(url)
	defer unlock()

	target, ok := m.registry.Get(url)
	if !ok {
		tracked, _, err := m.registry.Track(ctx, url, m.cfg.DefaultInterval)
		if err != nil {
			recordSpanError(span, err)
			return nil, outcomeFailed, fmt.Errorf("track %s: %w", url, err)
		}
		target = tracked
	}

	if !target.IsDue(m.clock.Now(), force) {
		m.logger.Debug("skipping check, interval not elapsed",
			zap.String("url", url),
			zap.Timep("last_checked", target.LastChecked),
			zap.Duration("interval", target.CheckInterval),
		)
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil, outcomeSkipped, nil
	}

	m.logger.Info("checking for changes", zap.String("url", url))
	start := m.clock.Now()
	content, ok := m.fetch(ctx, url)
	elapsed := m.clock.Now().Sub(start)
	if !ok {
		span.SetStatus(codes.Error, "fetch failed")
		m.emitter.Emit(progress.Event{Stage: progress.StageCheckFailed, URL: url, Dur: max(elapsed, 0)})
		return nil, outcomeFailed, nil
	}

	snap, change, err := m.detector.Detect(target, content)
	if err != nil {
		recordSpanError(span, err)
		m.emitter.Emit(progress.Event{Stage: progress.StageCheckFailed, URL: url, Note: err.Error()})
		return nil, outcomeFailed, fmt.Errorf("detect %s: %w", url, err)
	}

	updated := target.Clone()
	updated.Record(snap, change)
	if err := m.registry.Apply(ctx, updated); err != nil {
		recordSpanError(span, err)
		return nil, outcomeFailed, fmt.Errorf("persist %s: %w", url, err)
	}

	m.emitter.Emit(progress.Event{
		Stage:       progress.StageCheckDone,
		URL:         url,
		Fingerprint: snap.Fingerprint,
		Dur:         max(elapsed, 0),
	})
	if change == nil {
		return nil, outcomeChecked, nil
	}

	span.SetAttributes(attribute.Bool("changed", true), attribute.Int("length_delta", change.LengthDelta))
	m.logger.Info("change detected",
		zap.String("url", url),
		zap.String("summary", change.DiffSummary),
		zap.Int("change_count", updated.ChangeCount),
	)
	m.emitter.Emit(progress.Event{
		Stage:       progress.StageChangeDetected,
		URL:         url,
		Fingerprint: change.CurrentFingerprint,
		LengthDelta: change.LengthDelta,
		Note:        change.DiffSummary,
	})
	m.notify(ctx, *change)
	return change, outcomeChecked, nil
}

// fetch returns the content of url, or false when the fetch failed.
func (m *Monitor) fetch(ctx context.Context, url string) (string, bool) {
	result, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		m.logger.Error("fetch failed", zap.String("url", url), zap.Error(err))
		return "", false
	}
	if !result.Success {
		m.logger.Error("fetch failed", zap.String("url", url), zap.String("reason", result.Error))
		return "", false
	}
	return result.Content, true
}

func (m *Monitor) notify(ctx context.Context, change tracker.ChangeRecord) {
	if m.handler == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("change handler panicked", zap.String("url", change.URL), zap.Any("panic", rec))
		}
	}()
	if err := m.handler.OnChange(ctx, change); err != nil {
		m.logger.Warn("change handler failed", zap.String("url", change.URL), zap.Error(err))
	}
}

// CheckAll checks every tracked target in turn. A failure on one target is
// logged and counted without stopping the others.
func (m *Monitor) CheckAll(ctx context.Context, force bool) tracker.CycleReport {
	ctx, span := m.tracer.Start(ctx, "changemonitor.CheckAll", trace.WithAttributes(attribute.Bool("force", force)))
	defer span.End()

	report := tracker.CycleReport{Changes: []tracker.ChangeRecord{}}
	urls := m.registry.List()
	for _, url := range urls {
		change, result, err := m.check(ctx, url, force)
		if err != nil {
			m.logger.Error("error checking target", zap.String("url", url), zap.Error(err))
		}
		switch result {
		case outcomeChecked:
			report.Checked++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
		}
		if change != nil {
			report.Changes = append(report.Changes, *change)
		}
	}
	span.SetAttributes(
		attribute.Int("checked", report.Checked),
		attribute.Int("failed", report.Failed),
		attribute.Int("changes", len(report.Changes)),
	)
	m.logger.Info("check cycle finished",
		zap.Int("tracked", len(urls)),
		zap.Int("checked", report.Checked),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("changes", len(report.Changes)),
	)
	return report
}

// MonitorContinuously runs CheckAll cycles separated by interval until stop
// is satisfied or ctx is cancelled. Cancellation is only observed while
// sleeping between cycles; a running cycle always completes.
func (m *Monitor) MonitorContinuously(
	ctx context.Context,
	interval time.Duration,
	stop tracker.StopCondition,
) (tracker.MonitorReport, error) {
	if interval <= 0 {
		interval = m.cfg.CycleInterval
	}
	var total tracker.MonitorReport
	m.logger.Info("starting continuous monitoring",
		zap.Duration("interval", interval),
		zap.Int("max_cycles", stop.Cycles()),
	)
	for {
		start := m.clock.Now()
		cycle := m.CheckAll(context.WithoutCancel(ctx), false)
		total.Cycles++
		total.Checked += cycle.Checked
		total.Failed += cycle.Failed
		total.Changes += len(cycle.Changes)
		m.emitter.Emit(progress.Event{
			Stage:     progress.StageCycleDone,
			Completed: cycle.Checked,
			Total:     m.registry.Len(),
			Dur:       max(m.clock.Now().Sub(start), 0),
		})

		if stop.Done(total.Cycles) {
			m.logger.Info("monitoring finished", zap.Int("cycles", total.Cycles))
			return total, nil
		}
		if err := m.sleeper.Sleep(ctx, interval); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				m.logger.Info("monitoring stopped", zap.Int("cycles", total.Cycles))
				return total, nil
			}
			return total, fmt.Errorf("sleep between cycles: %w", err)
		}
	}
}

// History returns up to limit change records for url, newest first. Unknown
// URLs yield an empty slice.
func (m *Monitor) History(url string, limit int) []tracker.ChangeRecord {
	target, ok := m.registry.Get(url)
	if !ok {
		return []tracker.ChangeRecord{}
	}
	return target.History(limit)
}

// Snapshots returns up to limit snapshots for url, newest first.
func (m *Monitor) Snapshots(url string, limit int) []tracker.Snapshot {
	target, ok := m.registry.Get(url)
	if !ok {
		return []tracker.Snapshot{}
	}
	return target.RecentSnapshots(limit)
}

// Stats summarizes every tracked target.
func (m *Monitor) Stats() tracker.TrackingStats {
	targets := m.registry.All()
	stats := tracker.TrackingStats{
		TotalTracked: len(targets),
		Targets:      make([]tracker.TargetStats, 0, len(targets)),
	}
	for _, target := range targets {
		stats.TotalChangesDetected += target.ChangeCount
		if target.ChangeCount > 0 {
			stats.TargetsWithChanges++
		}
		stats.Targets = append(stats.Targets, tracker.TargetStats{
			URL:         target.URL,
			LastChecked: target.LastChecked,
			ChangeCount: target.ChangeCount,
		})
	}
	return stats
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

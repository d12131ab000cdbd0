package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pagewatch/internal/progress"
)

// PrometheusSink exports monitoring progress via Prometheus. It owns the
// collectors for target checks, detected changes, and job lifecycles.
type PrometheusSink struct {
	checks        *prometheus.CounterVec
	changes       prometheus.Counter
	checkDuration prometheus.Histogram
	cycles        prometheus.Counter

	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	jobDocuments  prometheus.Counter

	jobs *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewatch_checks_total",
			Help: "Target checks partitioned by result.",
		}, []string{"result"}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewatch_changes_detected_total",
			Help: "Total content changes detected across all targets.",
		}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagewatch_check_duration_seconds",
			Help:    "Fetch latency per target check.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewatch_monitor_cycles_total",
			Help: "Completed check-all cycles.",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewatch_jobs_started_total",
			Help: "Total jobs that have started being watched.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewatch_jobs_completed_total",
			Help: "Total jobs reaching a terminal state partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagewatch_jobs_running",
			Help: "Current number of watched jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagewatch_job_runtime_seconds",
			Help:    "Wall time per watched job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		jobDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewatch_job_documents_total",
			Help: "Documents reported complete by watched jobs.",
		}),
		jobs: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.checks,
		s.changes,
		s.checkDuration,
		s.cycles,
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.jobDocuments,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCheckDone:
		s.checks.WithLabelValues("success").Inc()
		if evt.Dur > 0 {
			s.checkDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageCheckFailed:
		s.checks.WithLabelValues("error").Inc()
	case progress.StageChangeDetected:
		s.changes.Inc()
	case progress.StageCycleDone:
		s.cycles.Inc()
	case progress.StageJobStart, progress.StageJobProgress, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.jobs.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
		return
	case progress.StageJobProgress:
		if delta := s.jobs.advance(evt.JobID, evt.Completed); delta > 0 {
			s.jobDocuments.Add(float64(delta))
		}
		return
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.jobs.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker remembers running jobs and their last completed count.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]int
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]int)}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = 0
	return true
}

// advance records completed and returns the increase since the last call.
func (t *jobTracker) advance(id string, completed int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.running[id]
	if !ok || completed <= last {
		return 0
	}
	t.running[id] = completed
	return completed - last
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

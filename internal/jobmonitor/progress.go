// Package jobmonitor watches asynchronous fetch jobs until they reach a
// terminal state, reporting items, progress, and errors through handlers.
package jobmonitor

import (
	"time"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// Progress is the live state of one watched job. It performs no I/O and is
// mutated only by the Monitor that owns it.
type Progress struct {
	JobID     string
	Status    tracker.JobStatus
	Total     int
	Completed int
	Failed    int
	// CostUsed mirrors Completed until the service reports a cost.
	CostUsed  int
	StartTime time.Time
	Documents []tracker.JobItem

	costReported bool
}

// NewProgress starts tracking jobID at start. total may be zero when unknown.
func NewProgress(jobID string, total int, start time.Time) *Progress {
	return &Progress{
		JobID:     jobID,
		Status:    tracker.JobStatusPending,
		Total:     max(total, 0),
		StartTime: start,
	}
}

// PercentComplete returns Completed/Total*100, or 0 when Total is unknown.
func (p *Progress) PercentComplete() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Elapsed returns the time since the job started.
func (p *Progress) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.StartTime)
}

// Apply folds a status report into the progress. Status only moves forward
// (pending, running, terminal) and a terminal status is never replaced.
// Counters never decrease and Completed is capped at a known Total.
func (p *Progress) Apply(report tracker.JobStatusReport) {
	if !p.Status.IsTerminal() && statusRank(report.Status) >= statusRank(p.Status) {
		p.Status = report.Status
	}
	if report.Total > 0 {
		p.Total = max(p.Total, report.Total)
	}
	p.Completed = max(p.Completed, report.Completed)
	if p.Total > 0 {
		p.Completed = min(p.Completed, p.Total)
	}
	p.Failed = max(p.Failed, report.Failed)
	switch {
	case report.CostUsed != nil:
		p.CostUsed = *report.CostUsed
		p.costReported = true
	case !p.costReported:
		p.CostUsed = p.Completed
	}
}

// Result assembles the final outcome at now.
func (p *Progress) Result(now time.Time) tracker.JobResult {
	docs := make([]map[string]any, 0, len(p.Documents))
	for _, item := range p.Documents {
		docs = append(docs, item.Payload)
	}
	return tracker.JobResult{
		JobID:     p.JobID,
		Success:   p.Status == tracker.JobStatusCompleted,
		Status:    p.Status,
		Documents: docs,
		CostUsed:  p.CostUsed,
		Total:     p.Total,
		Completed: p.Completed,
		Failed:    p.Failed,
		Elapsed:   p.Elapsed(now),
	}
}

func statusRank(s tracker.JobStatus) int {
	switch {
	case s.IsTerminal():
		return 2
	case s == tracker.JobStatusRunning:
		return 1
	default:
		return 0
	}
}

// snapshot copies p so it can leave the monitor lock.
func (p *Progress) snapshot() Progress {
	out := *p
	out.Documents = append([]tracker.JobItem(nil), p.Documents...)
	return out
}

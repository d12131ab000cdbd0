package jobmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

func TestProgressPercentComplete(t *testing.T) {
	t.Parallel()

	p := NewProgress("job-1", 0, time.Unix(0, 0))
	assert.Zero(t, p.PercentComplete(), "unknown total reports zero")

	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusRunning, Total: 8, Completed: 2})
	assert.InDelta(t, 25.0, p.PercentComplete(), 0.001)
	assert.Equal(t, 2*time.Second, p.Elapsed(time.Unix(2, 0)))
}

func TestProgressApplyIsMonotonic(t *testing.T) {
	t.Parallel()

	p := NewProgress("job-1", 0, time.Unix(0, 0))
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusRunning, Total: 10, Completed: 6})
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusPending, Total: 10, Completed: 4})
	assert.Equal(t, tracker.JobStatusRunning, p.Status, "status never moves backwards")
	assert.Equal(t, 6, p.Completed, "completed never decreases")

	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusCancelled, Total: 10, Completed: 6})
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusCompleted, Total: 10, Completed: 10})
	assert.Equal(t, tracker.JobStatusCancelled, p.Status, "terminal status is absorbing")
}

func TestProgressClampsCompletedToTotal(t *testing.T) {
	t.Parallel()

	p := NewProgress("job-1", 3, time.Unix(0, 0))
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusRunning, Completed: 5})
	assert.Equal(t, 3, p.Completed)
}

func TestProgressCostDefaultsToCompleted(t *testing.T) {
	t.Parallel()

	p := NewProgress("job-1", 0, time.Unix(0, 0))
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusRunning, Total: 4, Completed: 2})
	assert.Equal(t, 2, p.CostUsed)

	cost := 7
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusRunning, Total: 4, Completed: 3, CostUsed: &cost})
	p.Apply(tracker.JobStatusReport{Status: tracker.JobStatusRunning, Total: 4, Completed: 4})
	assert.Equal(t, 7, p.CostUsed, "a reported cost is kept")
}

func TestProgressResultSuccessOnlyWhenCompleted(t *testing.T) {
	t.Parallel()

	for _, status := range []tracker.JobStatus{
		tracker.JobStatusCompleted, tracker.JobStatusFailed, tracker.JobStatusCancelled,
	} {
		p := NewProgress("job-1", 0, time.Unix(0, 0))
		p.Apply(tracker.JobStatusReport{Status: status})
		result := p.Result(time.Unix(1, 0))
		assert.Equal(t, status == tracker.JobStatusCompleted, result.Success, string(status))
		assert.Equal(t, status, result.Status)
		assert.Equal(t, time.Second, result.Elapsed)
	}
}

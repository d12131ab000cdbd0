package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedTargetIsDue(t *testing.T) {
	t.Parallel()

	now := time.Unix(10_000, 0)
	target := NewTarget("https://example.com", time.Hour)
	require.True(t, target.IsDue(now, false), "never checked targets are due")

	checked := now.Add(-30 * time.Minute)
	target.LastChecked = &checked
	require.False(t, target.IsDue(now, false))
	require.True(t, target.IsDue(now, true))
	require.True(t, target.IsDue(now.Add(30*time.Minute), false), "due exactly at the interval boundary")
}

func TestNewTargetDefaultsInterval(t *testing.T) {
	t.Parallel()

	target := NewTarget("https://example.com", -1)
	assert.Equal(t, DefaultCheckInterval, target.CheckInterval)
}

func TestZeroIntervalIsAlwaysDue(t *testing.T) {
	t.Parallel()

	now := time.Unix(10_000, 0)
	target := NewTarget("https://a.test", 0)
	target.LastChecked = &now
	assert.True(t, target.IsDue(now, false))
}

func TestRecordCapsSnapshotsAndCountsChanges(t *testing.T) {
	t.Parallel()

	target := NewTarget("https://example.com", time.Hour)
	for i := 0; i < 11; i++ {
		snap := Snapshot{
			URL:         target.URL,
			Fingerprint: fmt.Sprintf("fp-%d", i),
			Timestamp:   time.Unix(int64(i), 0),
		}
		var change *ChangeRecord
		if i > 0 {
			change = &ChangeRecord{URL: target.URL, CurrentFingerprint: snap.Fingerprint}
		}
		target.Record(snap, change)
	}

	require.Len(t, target.Snapshots, MaxSnapshots)
	assert.Equal(t, "fp-1", target.Snapshots[0].Fingerprint, "oldest snapshot evicted")
	assert.Equal(t, "fp-10", target.LastFingerprint)
	assert.Equal(t, 10, target.ChangeCount)
	assert.Len(t, target.Changes, 10)
	require.NotNil(t, target.LastChecked)
	assert.Equal(t, time.Unix(10, 0), *target.LastChecked)
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	t.Parallel()

	target := NewTarget("https://example.com", time.Hour)
	for i := 0; i < 60; i++ {
		target.Changes = append(target.Changes, ChangeRecord{CurrentFingerprint: fmt.Sprintf("c%d", i)})
	}

	history := target.History(0)
	require.Len(t, history, DefaultHistoryLimit)
	assert.Equal(t, "c59", history[0].CurrentFingerprint)

	recent := target.History(3)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"c59", "c58", "c57"}, []string{
		recent[0].CurrentFingerprint, recent[1].CurrentFingerprint, recent[2].CurrentFingerprint,
	})
}

func TestCloneDoesNotShareState(t *testing.T) {
	t.Parallel()

	checked := time.Unix(5, 0)
	target := TrackedTarget{
		URL:         "https://example.com",
		LastChecked: &checked,
		Snapshots:   []Snapshot{{Fingerprint: "a"}},
	}
	cp := target.Clone()
	cp.Snapshots[0].Fingerprint = "b"
	*cp.LastChecked = time.Unix(6, 0)

	assert.Equal(t, "a", target.Snapshots[0].Fingerprint)
	assert.Equal(t, time.Unix(5, 0), *target.LastChecked)
}

func TestStopCondition(t *testing.T) {
	t.Parallel()

	bounded := Bounded(2)
	assert.False(t, bounded.Done(1))
	assert.True(t, bounded.Done(2))
	assert.False(t, Unbounded().Done(1_000_000))
	assert.Equal(t, 1, Bounded(0).Cycles())
}

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]JobStatus{
		"scraping":  JobStatusRunning,
		"running":   JobStatusRunning,
		"completed": JobStatusCompleted,
		"failed":    JobStatusFailed,
		"cancelled": JobStatusCancelled,
		"canceled":  JobStatusCancelled,
		"pending":   JobStatusPending,
		"weird":     JobStatusPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseJobStatus(raw), raw)
	}
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
}

func TestItemIdentity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://a", ItemIdentity(map[string]any{"url": "https://a"}))
	assert.Equal(t, "https://b", ItemIdentity(map[string]any{
		"metadata": map[string]any{"sourceURL": "https://b"},
	}))
	assert.Empty(t, ItemIdentity(map[string]any{"markdown": "x"}))
}

func TestJobSpecSeeds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"https://a"}, JobSpec{Kind: JobKindCrawl, URL: "https://a"}.Seeds())
	assert.Equal(t, []string{"https://a", "https://b"}, JobSpec{
		Kind: JobKindBatch,
		URLs: []string{"https://a", "https://b"},
	}.Seeds())
}

// Package tracker defines the core types shared by the change monitor, the
// job monitor, and their storage and transport adapters.
package tracker

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Limits applied to every tracked target.
const (
	// MaxSnapshots bounds the per-target snapshot history; oldest entries are evicted first.
	MaxSnapshots = 10
	// PreviewChars is the number of leading characters kept in Snapshot.ContentPreview.
	PreviewChars = 500
	// DefaultHistoryLimit caps change history reads when the caller passes no limit.
	DefaultHistoryLimit = 50
	// DefaultCheckInterval is applied when a target is tracked without an interval.
	DefaultCheckInterval = 24 * time.Hour
)

// Sentinel errors returned by the registry and monitors.
var (
	ErrNotTracked  = errors.New("target not tracked")
	ErrInvalidURL  = errors.New("invalid target url")
	ErrJobNotFound = errors.New("job not found")
	ErrQueueClosed = errors.New("queue closed")
)

// Snapshot is an immutable record of one observation of a target.
type Snapshot struct {
	URL            string    `json:"url"`
	Fingerprint    string    `json:"content_hash"`
	ContentLength  int       `json:"content_length"`
	Timestamp      time.Time `json:"timestamp"`
	ContentPreview string    `json:"markdown_preview"`
}

// ChangeRecord describes a detected fingerprint transition.
type ChangeRecord struct {
	URL                 string    `json:"url"`
	DetectedAt          time.Time `json:"detected_at"`
	PreviousFingerprint string    `json:"previous_hash"`
	CurrentFingerprint  string    `json:"current_hash"`
	LengthDelta         int       `json:"content_length_change"`
	DiffSummary         string    `json:"diff_summary"`
	FullDiff            string    `json:"full_diff,omitempty"`
}

// TrackedTarget is the durable per-URL monitoring state.
type TrackedTarget struct {
	URL               string
	CheckInterval     time.Duration
	LastChecked       *time.Time
	LastFingerprint   string
	LastContentLength int
	ChangeCount       int
	// Snapshots are ordered oldest first and never exceed MaxSnapshots.
	Snapshots []Snapshot
	// Changes are ordered oldest first.
	Changes []ChangeRecord
}

// NewTarget returns a target that has never been checked. A zero interval
// makes the target due on every check; a negative one selects
// DefaultCheckInterval.
func NewTarget(url string, interval time.Duration) TrackedTarget {
	if interval < 0 {
		interval = DefaultCheckInterval
	}
	return TrackedTarget{URL: url, CheckInterval: interval}
}

// IsDue reports whether the target should be fetched at now.
func (t TrackedTarget) IsDue(now time.Time, force bool) bool {
	if force || t.LastChecked == nil {
		return true
	}
	return now.Sub(*t.LastChecked) >= t.CheckInterval
}

// LastSnapshot returns the most recent snapshot, if any.
func (t TrackedTarget) LastSnapshot() (Snapshot, bool) {
	if len(t.Snapshots) == 0 {
		return Snapshot{}, false
	}
	return t.Snapshots[len(t.Snapshots)-1], true
}

// Record folds a successful observation into the target. The snapshot list is
// trimmed to MaxSnapshots and ChangeCount grows by one when change is non-nil.
func (t *TrackedTarget) Record(snap Snapshot, change *ChangeRecord) {
	checked := snap.Timestamp
	t.LastChecked = &checked
	t.LastFingerprint = snap.Fingerprint
	t.LastContentLength = snap.ContentLength
	t.Snapshots = append(t.Snapshots, snap)
	if over := len(t.Snapshots) - MaxSnapshots; over > 0 {
		t.Snapshots = append([]Snapshot(nil), t.Snapshots[over:]...)
	}
	if change != nil {
		t.Changes = append(t.Changes, *change)
		t.ChangeCount++
	}
}

// History returns up to limit change records, newest first. A non-positive
// limit falls back to DefaultHistoryLimit.
func (t TrackedTarget) History(limit int) []ChangeRecord {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return newestFirst(t.Changes, limit)
}

// RecentSnapshots returns up to limit snapshots, newest first. A non-positive
// limit returns every retained snapshot.
func (t TrackedTarget) RecentSnapshots(limit int) []Snapshot {
	if limit <= 0 {
		limit = MaxSnapshots
	}
	return newestFirst(t.Snapshots, limit)
}

// Clone returns a deep copy so callers can mutate without sharing slices.
func (t TrackedTarget) Clone() TrackedTarget {
	out := t
	if t.LastChecked != nil {
		checked := *t.LastChecked
		out.LastChecked = &checked
	}
	out.Snapshots = slices.Clone(t.Snapshots)
	out.Changes = slices.Clone(t.Changes)
	return out
}

func newestFirst[T any](in []T, limit int) []T {
	n := min(limit, len(in))
	out := make([]T, 0, n)
	for i := len(in) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, in[i])
	}
	return out
}

// TargetStats summarizes one target for reporting.
type TargetStats struct {
	URL         string     `json:"url"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	ChangeCount int        `json:"change_count"`
}

// TrackingStats aggregates the registry for reporting.
type TrackingStats struct {
	TotalTracked         int           `json:"total_tracked"`
	TotalChangesDetected int           `json:"total_changes_detected"`
	TargetsWithChanges   int           `json:"urls_with_changes"`
	Targets              []TargetStats `json:"tracked_urls"`
}

// CycleReport summarizes one pass over every tracked target.
type CycleReport struct {
	Checked int            `json:"checked"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Changes []ChangeRecord `json:"changes"`
}

// MonitorReport aggregates the cycles run by a continuous monitor.
type MonitorReport struct {
	Cycles  int `json:"cycles"`
	Checked int `json:"checked"`
	Failed  int `json:"failed"`
	Changes int `json:"changes"`
}

// StopCondition bounds a continuous monitoring run.
type StopCondition struct {
	cycles int
}

// Bounded stops after n cycles; n must be positive.
func Bounded(n int) StopCondition {
	if n < 1 {
		n = 1
	}
	return StopCondition{cycles: n}
}

// Unbounded runs until the caller cancels.
func Unbounded() StopCondition {
	return StopCondition{}
}

// Done reports whether completed cycles satisfy the condition.
func (s StopCondition) Done(completed int) bool {
	return s.cycles > 0 && completed >= s.cycles
}

// Cycles returns the configured bound, or zero when unbounded.
func (s StopCondition) Cycles() int {
	return s.cycles
}

// FetchResult is the outcome of fetching a target's textual content.
type FetchResult struct {
	Success bool
	Content string
	Error   string
}

// JobStatus is the normalized lifecycle state of a remote job.
type JobStatus string

// Job status values. Completed, failed, and cancelled are terminal.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ParseJobStatus maps a job service status string onto JobStatus. Unknown
// values are treated as pending.
func ParseJobStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "scraping", "active", "processing":
		return JobStatusRunning
	case "completed", "complete", "succeeded":
		return JobStatusCompleted
	case "failed", "error":
		return JobStatusFailed
	case "cancelled", "canceled":
		return JobStatusCancelled
	default:
		return JobStatusPending
	}
}

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobKind selects the job service operation.
type JobKind string

// Supported job kinds.
const (
	JobKindCrawl JobKind = "crawl"
	JobKindBatch JobKind = "batch"
)

// JobSpec describes a job submission.
type JobSpec struct {
	Kind  JobKind  `json:"kind"`
	URL   string   `json:"url,omitempty"`
	URLs  []string `json:"urls,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Seeds returns the URLs the job starts from.
func (s JobSpec) Seeds() []string {
	if s.Kind == JobKindBatch || s.URL == "" {
		return slices.Clone(s.URLs)
	}
	return []string{s.URL}
}

// JobItem is one produced document together with its identity key.
type JobItem struct {
	IdentityKey string         `json:"-"`
	Payload     map[string]any `json:"payload"`
}

// ItemIdentity derives the identity key of a job service document: its url,
// falling back to metadata.sourceURL. Empty means the item cannot be deduplicated.
func ItemIdentity(payload map[string]any) string {
	if u, ok := payload["url"].(string); ok && u != "" {
		return u
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		if u, ok := meta["sourceURL"].(string); ok {
			return u
		}
	}
	return ""
}

// JobStatusReport is one poll response from a job service.
type JobStatusReport struct {
	Status    JobStatus
	Total     int
	Completed int
	Failed    int
	// CostUsed is nil when the service did not report it.
	CostUsed *int
	Items    []JobItem
}

// JobResult is the final outcome of watching a job to a terminal state.
type JobResult struct {
	JobID     string           `json:"job_id"`
	Success   bool             `json:"success"`
	Status    JobStatus        `json:"status"`
	Documents []map[string]any `json:"data"`
	CostUsed  int              `json:"credits_used"`
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Elapsed   time.Duration    `json:"elapsed"`
}

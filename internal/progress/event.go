// Package progress defines the event structures emitted by the change and job
// monitors.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCheckDone      Stage = "CHECK_DONE"
	StageCheckFailed    Stage = "CHECK_FAILED"
	StageChangeDetected Stage = "CHANGE_DETECTED"
	StageCycleDone      Stage = "CYCLE_DONE"
	StageJobStart       Stage = "JOB_START"
	StageJobProgress    Stage = "JOB_PROGRESS"
	StageJobDone        Stage = "JOB_DONE"
	StageJobError       Stage = "JOB_ERROR"
)

// Event captures a single monitoring milestone.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// URL scopes check events to a tracked target.
	URL string `json:"url,omitempty"`
	// JobID scopes job events to a job service job.
	JobID string `json:"job_id,omitempty"`
	// Fingerprint is the content hash observed by a check.
	Fingerprint string `json:"fingerprint,omitempty"`
	// LengthDelta is the signed content length change of a detected change.
	LengthDelta int `json:"length_delta,omitempty"`
	// Completed and Total carry job progress counters, or per-cycle check
	// counts for CYCLE_DONE.
	Completed int `json:"completed,omitempty"`
	Total     int `json:"total,omitempty"`
	// Dur captures fetch latency for checks and wall time for jobs and cycles.
	Dur time.Duration `json:"dur,omitempty"`
	// Note lets emitters attach low-volume context (e.g. error text or status).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCheckDone, StageCheckFailed, StageChangeDetected:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageCycleDone:
	case StageJobStart, StageJobProgress, StageJobDone, StageJobError:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsJobStage reports whether the event describes a job.
func (e Event) IsJobStage() bool {
	switch e.Stage {
	case StageJobStart, StageJobProgress, StageJobDone, StageJobError:
		return true
	default:
		return false
	}
}

// Attributes returns the routing attributes used when the event is published
// to a message bus.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{"stage": string(e.Stage)}
	if e.URL != "" {
		attrs["url"] = e.URL
	}
	if e.JobID != "" {
		attrs["job_id"] = e.JobID
	}
	return attrs
}

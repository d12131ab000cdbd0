package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// errMissingURL marks records that cannot be keyed back to a target.
var errMissingURL = errors.New("record has no url")

// record is the on-disk shape of a tracked target. Field names are stable;
// unknown fields are ignored and missing ones take their zero value.
type record struct {
	URL               string           `json:"url"`
	CheckInterval     *int64           `json:"check_interval"`
	LastChecked       *timestamp       `json:"last_checked"`
	LastHash          *string          `json:"last_hash"`
	LastContentLength int              `json:"last_content_length"`
	ChangeCount       int              `json:"change_count"`
	Snapshots         []snapshotRecord `json:"snapshots"`
	Changes           []changeRecord   `json:"changes"`
}

type snapshotRecord struct {
	URL            string    `json:"url"`
	Fingerprint    string    `json:"content_hash"`
	ContentLength  int       `json:"content_length"`
	Timestamp      timestamp `json:"timestamp"`
	ContentPreview string    `json:"markdown_preview"`
}

type changeRecord struct {
	URL                 string    `json:"url"`
	DetectedAt          timestamp `json:"detected_at"`
	PreviousFingerprint string    `json:"previous_hash"`
	CurrentFingerprint  string    `json:"current_hash"`
	LengthDelta         int       `json:"content_length_change"`
	DiffSummary         string    `json:"diff_summary"`
	FullDiff            string    `json:"full_diff,omitempty"`
}

// timestampLayouts are tried in order. Layouts without a zone read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// timestamp reads RFC 3339 and zone-less ISO 8601 values. A value that
// matches no layout decodes as the zero time instead of failing the record.
type timestamp struct {
	time.Time
}

func (ts timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	ts.Time = time.Time{}
	var raw string
	if json.Unmarshal(data, &raw) != nil {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return nil
}

// Encode serializes a target into its persisted JSON form.
func Encode(target tracker.TrackedTarget) ([]byte, error) {
	seconds := int64(target.CheckInterval / time.Second)
	rec := record{
		URL:               target.URL,
		CheckInterval:     &seconds,
		LastContentLength: target.LastContentLength,
		ChangeCount:       target.ChangeCount,
		Snapshots:         make([]snapshotRecord, 0, len(target.Snapshots)),
		Changes:           make([]changeRecord, 0, len(target.Changes)),
	}
	if target.LastChecked != nil {
		rec.LastChecked = &timestamp{Time: *target.LastChecked}
	}
	if target.LastFingerprint != "" {
		hash := target.LastFingerprint
		rec.LastHash = &hash
	}
	for _, s := range target.Snapshots {
		rec.Snapshots = append(rec.Snapshots, snapshotRecord{
			URL:            s.URL,
			Fingerprint:    s.Fingerprint,
			ContentLength:  s.ContentLength,
			Timestamp:      timestamp{Time: s.Timestamp},
			ContentPreview: s.ContentPreview,
		})
	}
	for _, c := range target.Changes {
		rec.Changes = append(rec.Changes, changeRecord{
			URL:                 c.URL,
			DetectedAt:          timestamp{Time: c.DetectedAt},
			PreviousFingerprint: c.PreviousFingerprint,
			CurrentFingerprint:  c.CurrentFingerprint,
			LengthDelta:         c.LengthDelta,
			DiffSummary:         c.DiffSummary,
			FullDiff:            c.FullDiff,
		})
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// Decode parses a persisted record. Missing fields default and unreadable
// timestamps decode as zero; a record without a url is rejected.
func Decode(data []byte) (tracker.TrackedTarget, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return tracker.TrackedTarget{}, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.URL == "" {
		return tracker.TrackedTarget{}, errMissingURL
	}
	interval := tracker.DefaultCheckInterval
	if rec.CheckInterval != nil {
		interval = time.Duration(*rec.CheckInterval) * time.Second
	}
	target := tracker.NewTarget(rec.URL, interval)
	if rec.LastChecked != nil && !rec.LastChecked.IsZero() {
		checked := rec.LastChecked.Time
		target.LastChecked = &checked
	}
	if rec.LastHash != nil {
		target.LastFingerprint = *rec.LastHash
	}
	target.LastContentLength = rec.LastContentLength
	target.ChangeCount = rec.ChangeCount
	snapshots := rec.Snapshots
	if over := len(snapshots) - tracker.MaxSnapshots; over > 0 {
		snapshots = snapshots[over:]
	}
	for _, s := range snapshots {
		target.Snapshots = append(target.Snapshots, tracker.Snapshot{
			URL:            s.URL,
			Fingerprint:    s.Fingerprint,
			ContentLength:  s.ContentLength,
			Timestamp:      s.Timestamp.Time,
			ContentPreview: s.ContentPreview,
		})
	}
	for _, c := range rec.Changes {
		target.Changes = append(target.Changes, tracker.ChangeRecord{
			URL:                 c.URL,
			DetectedAt:          c.DetectedAt.Time,
			PreviousFingerprint: c.PreviousFingerprint,
			CurrentFingerprint:  c.CurrentFingerprint,
			LengthDelta:         c.LengthDelta,
			DiffSummary:         c.DiffSummary,
			FullDiff:            c.FullDiff,
		})
	}
	return target, nil
}

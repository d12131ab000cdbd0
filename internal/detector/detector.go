// Package detector turns fetched content into snapshots and change records.
package detector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// DiffRenderer renders the difference between two content previews.
type DiffRenderer interface {
	Render(previous, current string) (string, error)
}

// Config controls detector behavior.
type Config struct {
	// DiffEnabled turns on rendered diffs for change records.
	DiffEnabled bool
	// PreviewChars overrides tracker.PreviewChars when positive.
	PreviewChars int
}

// Detector compares fresh content against a target's last known state.
type Detector struct {
	hasher   tracker.Hasher
	clock    tracker.Clock
	renderer DiffRenderer
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Detector. renderer may be nil, which disables diffs.
func New(
	hasher tracker.Hasher,
	clock tracker.Clock,
	renderer DiffRenderer,
	cfg Config,
	logger *zap.Logger,
) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = tracker.PreviewChars
	}
	return &Detector{
		hasher:   hasher,
		clock:    clock,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Detect fingerprints content and reports a change when the target has a
// previous fingerprint that differs. The target is not modified.
func (d *Detector) Detect(target tracker.TrackedTarget, content string) (tracker.Snapshot, *tracker.ChangeRecord, error) {
	fingerprint, err := d.hasher.Hash([]byte(content))
	if err != nil {
		return tracker.Snapshot{}, nil, fmt.Errorf("hash content: %w", err)
	}
	runes := []rune(content)
	now := d.clock.Now()
	snap := tracker.Snapshot{
		URL:            target.URL,
		Fingerprint:    fingerprint,
		ContentLength:  len(runes),
		Timestamp:      now,
		ContentPreview: string(runes[:min(len(runes), d.cfg.PreviewChars)]),
	}

	if target.LastFingerprint == "" || target.LastFingerprint == fingerprint {
		return snap, nil, nil
	}

	delta := snap.ContentLength - target.LastContentLength
	change := &tracker.ChangeRecord{
		URL:                 target.URL,
		DetectedAt:          now,
		PreviousFingerprint: target.LastFingerprint,
		CurrentFingerprint:  fingerprint,
		LengthDelta:         delta,
		DiffSummary:         Summary(delta),
		FullDiff:            d.renderDiff(target, snap.ContentPreview),
	}
	return snap, change, nil
}

// Summary formats the human-readable length change line.
func Summary(delta int) string {
	return fmt.Sprintf("Content length changed by %+d characters", delta)
}

func (d *Detector) renderDiff(target tracker.TrackedTarget, preview string) (out string) {
	if !d.cfg.DiffEnabled || d.renderer == nil {
		return ""
	}
	prev, ok := target.LastSnapshot()
	if !ok {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Warn("diff renderer panicked", zap.String("url", target.URL), zap.Any("panic", rec))
			out = ""
		}
	}()
	rendered, err := d.renderer.Render(prev.ContentPreview, preview)
	if err != nil {
		d.logger.Warn("diff render failed", zap.String("url", target.URL), zap.Error(err))
		return ""
	}
	return rendered
}

// Package diff renders human-readable differences between content previews.
package diff

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Config controls diff computation.
type Config struct {
	// LineBased speeds up large inputs by diffing whole lines first.
	LineBased bool
}

// Renderer produces HTML diffs with semantic cleanup applied.
type Renderer struct {
	dmp *diffmatchpatch.DiffMatchPatch
	cfg Config
}

// New creates a Renderer.
func New(cfg Config) *Renderer {
	return &Renderer{
		dmp: diffmatchpatch.New(),
		cfg: cfg,
	}
}

// Render returns an HTML rendering of the edits turning previous into current.
func (r *Renderer) Render(previous, current string) (string, error) {
	return r.dmp.DiffPrettyHtml(r.compute(previous, current)), nil
}

func (r *Renderer) compute(previous, current string) []diffmatchpatch.Diff {
	diffs := r.dmp.DiffMain(previous, current, r.cfg.LineBased)
	return r.dmp.DiffCleanupSemantic(diffs)
}

// Package registry holds the set of tracked targets in memory and persists
// every mutation through a tracker.RecordStore before returning.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// Registry is the single writer of tracked target state.
type Registry struct {
	store  tracker.RecordStore
	logger *zap.Logger

	mu      sync.RWMutex
	targets map[string]tracker.TrackedTarget
}

// New constructs an empty registry. Call LoadAll to restore persisted targets.
func New(store tracker.RecordStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		targets: make(map[string]tracker.TrackedTarget),
	}
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", tracker.ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", tracker.ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", tracker.ErrInvalidURL)
	}
	return nil
}

// LoadAll replaces the in-memory set with every persisted target and returns
// how many were restored.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	targets, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load targets: %w", err)
	}
	loaded := make(map[string]tracker.TrackedTarget, len(targets))
	for _, target := range targets {
		loaded[target.URL] = target
	}
	r.mu.Lock()
	r.targets = loaded
	r.mu.Unlock()
	r.logger.Info("loaded tracked targets", zap.Int("count", len(loaded)))
	return len(loaded), nil
}

// Track starts tracking rawURL. Tracking an already tracked URL returns the
// existing target unchanged. created reports whether a new target was added.
func (r *Registry) Track(
	ctx context.Context,
	rawURL string,
	interval time.Duration,
) (target tracker.TrackedTarget, created bool, err error) {
	if err := ValidateURL(rawURL); err != nil {
		return tracker.TrackedTarget{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.targets[rawURL]; ok {
		r.logger.Info("already tracking", zap.String("url", rawURL))
		return existing.Clone(), false, nil
	}
	target = tracker.NewTarget(rawURL, interval)
	if err := r.store.Save(ctx, target); err != nil {
		return tracker.TrackedTarget{}, false, fmt.Errorf("persist target: %w", err)
	}
	r.targets[rawURL] = target
	r.logger.Info("now tracking", zap.String("url", rawURL), zap.Duration("interval", target.CheckInterval))
	return target.Clone(), true, nil
}

// Untrack removes rawURL and its persisted record. It reports whether the
// URL was tracked.
func (r *Registry) Untrack(ctx context.Context, rawURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[rawURL]; !ok {
		return false, nil
	}
	if err := r.store.Delete(ctx, rawURL); err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	delete(r.targets, rawURL)
	r.logger.Info("stopped tracking", zap.String("url", rawURL))
	return true, nil
}

// Apply persists target and then replaces the in-memory copy. The target
// must already be tracked.
func (r *Registry) Apply(ctx context.Context, target tracker.TrackedTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[target.URL]; !ok {
		return fmt.Errorf("%w: %s", tracker.ErrNotTracked, target.URL)
	}
	if err := r.store.Save(ctx, target); err != nil {
		return fmt.Errorf("persist target: %w", err)
	}
	r.targets[target.URL] = target.Clone()
	return nil
}

// Get returns a copy of the target for rawURL.
func (r *Registry) Get(rawURL string) (tracker.TrackedTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.targets[rawURL]
	if !ok {
		return tracker.TrackedTarget{}, false
	}
	return target.Clone(), true
}

// List returns every tracked URL in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	urls := make([]string, 0, len(r.targets))
	for u := range r.targets {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// All returns copies of every tracked target ordered by URL.
func (r *Registry) All() []tracker.TrackedTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tracker.TrackedTarget, 0, len(r.targets))
	for _, target := range r.targets {
		out = append(out, target.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Len returns the number of tracked targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

package ratelimit

import (
	"context"

	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// Fetcher decorates a tracker.ContentFetcher with per-domain rate limiting and
// fetch metrics.
type Fetcher struct {
	next    tracker.ContentFetcher
	limiter *Limiter
}

// NewFetcher wraps next. A nil limiter only records metrics.
func NewFetcher(next tracker.ContentFetcher, limiter *Limiter) *Fetcher {
	return &Fetcher{next: next, limiter: limiter}
}

// Fetch waits for the domain's rate limit and delegates to the wrapped fetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (tracker.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return tracker.FetchResult{}, err
		}
	}
	result, err := f.next.Fetch(ctx, url)
	switch {
	case err != nil:
		metrics.ObserveFetch(url, "error", 0)
	case result.Success:
		metrics.ObserveFetch(url, "success", len(result.Content))
	default:
		metrics.ObserveFetch(url, "failure", 0)
	}
	return result, err
}

// Package hostblock refuses fetches to hosts matching configured patterns.
package hostblock

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// List matches hosts against exact names and "*.suffix" or ".suffix" patterns.
// A nil List blocks nothing.
type List struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a List from patterns. It returns nil when no usable pattern is given.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		p := strings.ToLower(strings.TrimSpace(raw))
		suffix, isSuffix := strings.CutPrefix(p, "*.")
		if !isSuffix {
			suffix, isSuffix = strings.CutPrefix(p, ".")
		}
		switch {
		case isSuffix && suffix != "":
			if !slices.Contains(l.suffixes, suffix) {
				l.suffixes = append(l.suffixes, suffix)
			}
		case !isSuffix && p != "":
			l.exact[p] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

// Blocked reports whether host matches the list.
func (l *List) Blocked(host string) bool {
	if l == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Fetcher refuses blocked hosts and delegates everything else.
type Fetcher struct {
	next tracker.ContentFetcher
	list *List
}

// NewFetcher wraps next with list.
func NewFetcher(next tracker.ContentFetcher, list *List) *Fetcher {
	return &Fetcher{next: next, list: list}
}

// Fetch reports a blocked host as an ordinary fetch failure without touching
// the network.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (tracker.FetchResult, error) {
	if u, err := url.Parse(rawURL); err == nil && f.list.Blocked(u.Hostname()) {
		return tracker.FetchResult{Success: false, Error: "host " + u.Hostname() + " is blocked"}, nil
	}
	return f.next.Fetch(ctx, rawURL)
}

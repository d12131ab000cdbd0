// Package promote decides when a plain HTTP fetch must be retried in a
// headless browser because the page renders its content with JavaScript.
package promote

import (
	"bytes"
	"net/http"
)

const (
	defaultThreshold = 2048
	// scriptShare is the percentage of a small page covered by script
	// elements at which it is considered client rendered.
	scriptShare = 25
)

// Heuristic applies a handful of rule-based promotions to a probe response.
type Heuristic struct {
	threshold int
}

// NewHeuristic returns a Heuristic. Bodies shorter than threshold bytes are
// inspected for script density; zero selects 2048.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{threshold: threshold}
}

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether a page fetched with status and body needs a
// headless render. Only successful responses are promoted.
func (h *Heuristic) ShouldPromote(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < h.threshold && scriptCoverage(body)*100/len(body) >= scriptShare
}

// scriptCoverage counts the bytes spanned by <script> elements, including the
// tags. An unterminated element covers the remainder of the body.
func scriptCoverage(body []byte) int {
	lower := bytes.ToLower(body)
	open, end := []byte("<script"), []byte("</script>")
	covered := 0
	for pos := 0; pos < len(lower); {
		start := bytes.Index(lower[pos:], open)
		if start < 0 {
			break
		}
		start += pos
		stop := bytes.Index(lower[start:], end)
		if stop < 0 {
			covered += len(lower) - start
			break
		}
		stop += start + len(end)
		covered += stop - start
		pos = stop
	}
	return covered
}

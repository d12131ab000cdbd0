package jobmonitor

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const barWidth = 30

// ProgressBar renders a single-line terminal progress bar with an ETA.
type ProgressBar struct {
	mu          sync.Mutex
	w           io.Writer
	description string
}

// NewProgressBar writes to w, labelling the bar with description.
func NewProgressBar(w io.Writer, description string) *ProgressBar {
	if description == "" {
		description = "Progress"
	}
	return &ProgressBar{w: w, description: description}
}

// Update redraws the bar for completed of total after elapsed.
func (b *ProgressBar) Update(completed, total int, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	percent := 0.0
	filled := 0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
		filled = min(barWidth*completed/total, barWidth)
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(b.w, "\r%s: [%s] %d/%d (%.1f%%) ETA: %s",
		b.description, bar, completed, total, percent, eta(completed, total, elapsed))
}

// Complete finishes the bar line with a summary.
func (b *ProgressBar) Complete(total int, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.w, "\n%s complete: %d items in %.1fs\n", b.description, total, elapsed.Seconds())
}

// eta estimates the remaining time from the average rate so far.
func eta(completed, total int, elapsed time.Duration) string {
	if completed <= 0 || elapsed <= 0 || total <= completed {
		return "0s"
	}
	perItem := elapsed / time.Duration(completed)
	remaining := perItem * time.Duration(total-completed)
	return remaining.Round(time.Second).String()
}

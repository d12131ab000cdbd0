// Package dispatcher runs the local job service's worker pool over the
// in-process job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pagewatch/internal/tracker"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

// Dispatcher owns a fixed set of workers sharing one queue.
type Dispatcher struct {
	queue   tracker.Queue
	workers []*worker.Worker
	running atomic.Int32
}

// New creates a Dispatcher.
func New(queue tracker.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts every worker and blocks until all of them have returned, which
// happens when ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var g errgroup.Group
	for _, w := range d.workers {
		g.Go(func() error {
			d.running.Add(1)
			defer d.running.Add(-1)
			w.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Running reports how many workers are currently looping.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// Enqueue hands item to the workers.
func (d *Dispatcher) Enqueue(ctx context.Context, item tracker.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

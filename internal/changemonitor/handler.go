package changemonitor

import (
	"context"
	"fmt"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// ChangeHandler is notified synchronously after a detected change has been
// persisted. Errors and panics are logged and never abort monitoring.
type ChangeHandler interface {
	OnChange(ctx context.Context, change tracker.ChangeRecord) error
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(ctx context.Context, change tracker.ChangeRecord) error

// OnChange implements ChangeHandler.
func (f ChangeHandlerFunc) OnChange(ctx context.Context, change tracker.ChangeRecord) error {
	return f(ctx, change)
}

// PublishingHandler forwards every change record to a topic.
type PublishingHandler struct {
	Publisher tracker.Publisher
	Topic     string
}

// OnChange implements ChangeHandler.
func (h PublishingHandler) OnChange(ctx context.Context, change tracker.ChangeRecord) error {
	if h.Publisher == nil {
		return nil
	}
	_, err := h.Publisher.Publish(ctx, h.Topic, change)
	return err
}

// Handlers fans a change out to several handlers in order. A panic in one
// handler is recovered and reported as its error, so later handlers still run.
type Handlers []ChangeHandler

// OnChange implements ChangeHandler, returning the first error after calling
// every handler.
func (hs Handlers) OnChange(ctx context.Context, change tracker.ChangeRecord) error {
	var first error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := callHandler(ctx, h, change); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func callHandler(ctx context.Context, h ChangeHandler, change tracker.ChangeRecord) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("change handler panicked: %v", rec)
		}
	}()
	return h.OnChange(ctx, change)
}

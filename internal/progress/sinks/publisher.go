package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/progress"
	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// DefaultPublishStages are the stages forwarded when none are configured.
var DefaultPublishStages = []progress.Stage{
	progress.StageChangeDetected,
	progress.StageJobDone,
	progress.StageJobError,
}

// PublisherSink forwards selected events to a topic so downstream systems can
// react to detected changes and finished jobs.
type PublisherSink struct {
	publisher tracker.Publisher
	topic     string
	stages    map[progress.Stage]struct{}
	logger    *zap.Logger
}

// NewPublisherSink publishes events whose stage is in stages (or
// DefaultPublishStages when empty) to topic.
func NewPublisherSink(
	publisher tracker.Publisher,
	topic string,
	stages []progress.Stage,
	logger *zap.Logger,
) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(stages) == 0 {
		stages = DefaultPublishStages
	}
	set := make(map[progress.Stage]struct{}, len(stages))
	for _, stage := range stages {
		set[stage] = struct{}{}
	}
	return &PublisherSink{publisher: publisher, topic: topic, stages: set, logger: logger}
}

// Consume publishes every matching event. Publishing stops at the first
// failure and the error is returned so the hub can log it.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if _, ok := s.stages[evt.Stage]; !ok {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			return fmt.Errorf("publish %s event: %w", evt.Stage, err)
		}
		s.logger.Debug("published progress event", zap.String("stage", string(evt.Stage)), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

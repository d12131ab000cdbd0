package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where no metrics backend is available.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
			zap.Duration("dur", evt.Dur),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.JobID != "" {
			fields = append(fields, zap.String("job_id", evt.JobID))
		}
		if evt.Fingerprint != "" {
			fields = append(fields, zap.String("fingerprint", evt.Fingerprint))
		}
		if evt.Stage == progress.StageChangeDetected {
			fields = append(fields, zap.Int("length_delta", evt.LengthDelta))
		}
		if evt.Total > 0 || evt.Completed > 0 {
			fields = append(fields, zap.Int("completed", evt.Completed), zap.Int("total", evt.Total))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

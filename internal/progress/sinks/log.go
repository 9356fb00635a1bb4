package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/progress"
)

// LogSink writes status and progress events as structured logs. Log events are
// skipped because the tracker already mirrors them to its own logger.
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
		if evt.Kind == progress.KindLog {
			continue
		}
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("url", evt.URL),
			zap.String("kind", string(evt.Kind)),
			zap.String("status", string(evt.Status)),
			zap.Int("percent", evt.Percent),
			zap.String("step", evt.Step),
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Message != "" {
			fields = append(fields, zap.String("message", evt.Message))
		}
		s.logger.Debug("run event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

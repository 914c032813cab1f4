package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/progress"
)

// LogSink emits structured logs for build progress. It doubles as the console
// view of the progress bars when no durable store is configured.
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

// Consume logs each event in the batch using structured fields. Bar updates
// are logged at debug level; run milestones at info, failures at error.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("tile", evt.Tile),
		}
		switch evt.Stage {
		case progress.StageBar:
			s.logger.Debug("progress",
				append(fields, zap.Int("bar", evt.Bar), zap.Int("percent", evt.Percent))...)
		case progress.StageRunError:
			s.logger.Error("tile build failed",
				append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))...)
		default:
			s.logger.Info("tile build",
				append(fields,
					zap.Int64("polygons", evt.Polygons),
					zap.Duration("dur", evt.Dur),
					zap.String("note", evt.Note),
				)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

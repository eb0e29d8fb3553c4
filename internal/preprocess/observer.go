package preprocess

import (
	"context"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// StageEvent describes one stage of one pipeline run.
type StageEvent struct {
	Stage    string
	Duration time.Duration
	Skipped  bool
	// Err is set when the stage failed and its output was discarded.
	Err error
}

// Observer receives stage events. Implementations must be safe for
// concurrent use when the pipeline is shared between workers.
type Observer interface {
	StageCompleted(ctx context.Context, evt StageEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, evt StageEvent)

func (f ObserverFunc) StageCompleted(ctx context.Context, evt StageEvent) { f(ctx, evt) }

type nopObserver struct{}

func (nopObserver) StageCompleted(context.Context, StageEvent) {}

// LogObserver writes stage events to logger: failures at warn level, the
// rest at debug.
func LogObserver(logger *logging.Logger) Observer {
	return ObserverFunc(func(_ context.Context, evt StageEvent) {
		switch {
		case evt.Err != nil:
			logger.Warn("Preprocessing stage failed, keeping previous image", "stage", evt.Stage, "error", evt.Err)
		case evt.Skipped:
			logger.Debug("Preprocessing stage skipped", "stage", evt.Stage)
		default:
			logger.Debug("Preprocessing stage completed", "stage", evt.Stage, "duration", evt.Duration)
		}
	})
}

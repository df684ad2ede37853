package audit

import (
	"context"
	"time"

	"practicecore/internal/observability"
)

// Recorder is a fire-and-forget sink for security events. Implementations must
// never fail the operation that emitted the event.
type Recorder interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

type LogRecorder struct {
	logger *observability.Logger
}

func NewLogRecorder(logger *observability.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["audit_event"] = event
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	r.logger.Info("audit", fields)
}

// Noop discards events; used in tests.
type Noop struct{}

func (Noop) Record(context.Context, string, map[string]any) {}

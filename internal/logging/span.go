package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one service operation. Its logger carries the trace and span ids.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartSpan opens a child span of whatever span ctx carries. The first span
// of a request also starts its trace, reusing the request id when present.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)
	t := traceFrom(ctx)

	if t.traceID == "" {
		t.traceID = t.requestID
		if t.traceID == "" {
			t.traceID = uuid.NewString()
		}
		logger = logger.With(slog.String("trace_id", t.traceID))
	}

	parent := t.spanID
	t.spanID = uuid.NewString()

	attrs := []any{slog.String("span_id", t.spanID), slog.String("span_name", name)}
	if parent != "" {
		attrs = append(attrs, slog.String("parent_span_id", parent))
	}
	logger = logger.With(attrs...)

	ctx = withTrace(WithLogger(ctx, logger), t)
	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// End logs the span duration at debug level.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Debug("span completed", slog.Duration("duration", time.Since(s.start)))
}

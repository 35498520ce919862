package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/avollmer/conductor/pkg/core"
)

// ConfigureSlog builds the process logger. Records pick up the active
// span ids and the pipeline run id from their context, so dispatch logs
// line up with spans and audit rows.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return slog.New(&correlationHandler{next: base})
}

// correlationHandler decorates records with trace_id, span_id, and
// run_id taken from the context.
type correlationHandler struct {
	next slog.Handler
}

func (h *correlationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *correlationHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(correlationAttrs(ctx, record)...)
	return h.next.Handle(ctx, record)
}

func (h *correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &correlationHandler{next: h.next.WithAttrs(attrs)}
}

func (h *correlationHandler) WithGroup(name string) slog.Handler {
	return &correlationHandler{next: h.next.WithGroup(name)}
}

func correlationAttrs(ctx context.Context, record slog.Record) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id, ok := core.RunID(ctx); ok && !recordHasAttr(record, "run_id") {
		attrs = append(attrs, slog.String("run_id", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		if !recordHasAttr(record, "trace_id") {
			attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		if !recordHasAttr(record, "span_id") {
			attrs = append(attrs, slog.String("span_id", sc.SpanID().String()))
		}
	}
	return attrs
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}

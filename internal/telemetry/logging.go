package telemetry

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog with trace/span correlation, grounded on the crawler's
// correlated logger: every Info/Error call stamps trace_id/span_id onto the
// record when ctx carries a recording span.
type Logger struct {
	base *slog.Logger
}

// NewLogger returns a JSON-handler logger at the given level ("debug",
// "info", "warn", "error"; anything else defaults to info).
func NewLogger(level string) *Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &Logger{base: slog.New(handler)}
}

// With returns a logger with additional fields attached to every record,
// e.g. tenant/pipeline stage, without repeating them at every call site.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{base: l.base.With(attrs...)}
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, l.withTrace(ctx, attrs)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, l.withTrace(ctx, attrs)...)
}

func (l *Logger) Error(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, l.withTrace(ctx, attrs)...)
}

func (l *Logger) withTrace(ctx context.Context, attrs []any) []any {
	traceID, spanID := traceIDs(ctx)
	if traceID == "" && spanID == "" {
		return attrs
	}
	return append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
}

// Slog exposes the underlying *slog.Logger for libraries that want one
// directly (e.g. database/sql driver wrappers).
func (l *Logger) Slog() *slog.Logger {
	return l.base
}

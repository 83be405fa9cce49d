package logging

import (
	"context"
	"log/slog"

	"airecorder/internal/services"
)

const (
	FieldComponent = "component"
	FieldSessionID = "session_id"
	// FieldSource names the capture source (microphone, system, screen).
	FieldSource = "source"
	FieldState  = "state"
	// FieldCorrelationID carries the IPC request ID.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. chunks_dropped).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields returns the session, source and request attributes stored in
// ctx, in that order.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if source, ok := services.SourceFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSource, source))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext binds the ContextFields of ctx to logger. A nil logger yields a
// no-op logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}

package services

import "context"

type contextKey int

const (
	sessionIDKey contextKey = iota
	sourceKey
	requestIDKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueOf(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithSessionID tags ctx with a recording session ID. Empty IDs are ignored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withValue(ctx, sessionIDKey, id)
}

func SessionIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, sessionIDKey) }

// WithSource tags ctx with the capture source a goroutine serves.
func WithSource(ctx context.Context, source string) context.Context {
	return withValue(ctx, sourceKey, source)
}

func SourceFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, sourceKey) }

// WithRequestID tags ctx with the ID the IPC server assigns each call.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return valueOf(ctx, requestIDKey) }

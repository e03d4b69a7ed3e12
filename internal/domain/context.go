package domain

import "context"

type ctxKey string

const (
	sessionCtxKey ctxKey = "session_id"
	requestCtxKey ctxKey = "request_id"
)

// ContextWithSessionID returns a new context carrying the session ID (ULID).
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithRequestID returns a new context carrying the request ID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
// Returns empty string if not set.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestCtxKey).(string); ok {
		return v
	}
	return ""
}

// Package context carries tracing values for orchestrator operations
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

// Context keys for tracing
const (
	sessionIDKey ctxKey = iota
	operationKey
	appKey
	startTimeKey
)

const (
	unknownSession   = "unknown-session"
	unknownOperation = "unknown-operation"
)

// WithSessionID adds a session ID to the context. One session spans one CLI invocation.
func WithSessionID(parent context.Context, sessionID string) context.Context {
	if sessionID == "" {
		sessionID = GenerateSessionID()
	}
	return context.WithValue(parent, sessionIDKey, sessionID)
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		return id
	}
	return unknownSession
}

// WithOperation adds an operation name (dev, build, clean...) to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return unknownOperation
}

// WithApp adds the app being worked on to the context
func WithApp(parent context.Context, app string) context.Context {
	return context.WithValue(parent, appKey, app)
}

// GetApp retrieves the app name from context, empty when unset
func GetApp(ctx context.Context) string {
	if app, ok := ctx.Value(appKey).(string); ok {
		return app
	}
	return ""
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the operation start time from context
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration calculates the duration since the start time in context, zero when unset
func GetDuration(ctx context.Context) time.Duration {
	if start, ok := GetStartTime(ctx); ok {
		return time.Since(start)
	}
	return 0
}

// GenerateSessionID creates a new unique session ID
func GenerateSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewOperation starts an operation: it ensures a session ID, names the operation and stamps the start time
func NewOperation(parent context.Context, operation string) context.Context {
	ctx := parent
	if GetSessionID(ctx) == unknownSession {
		ctx = WithSessionID(ctx, "")
	}
	ctx = WithOperation(ctx, operation)
	return WithStartTime(ctx, time.Now())
}

// TracingFields returns tracing fields for structured logging
func TracingFields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{
		"session_id": GetSessionID(ctx),
		"operation":  GetOperation(ctx),
	}
	if app := GetApp(ctx); app != "" {
		fields["app"] = app
	}
	if d := GetDuration(ctx); d > 0 {
		fields["duration_ms"] = d.Milliseconds()
	}
	return fields
}

package logger

import (
	"context"
	"time"

	wcontext "github.com/poltergeist/wraith/pkg/context"
)

// ContextFields returns the tracing fields carried by ctx: session, operation
// and elapsed time. The app is left out since app loggers already print it.
func ContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if id := wcontext.GetSessionID(ctx); id != "unknown-session" {
		fields = append(fields, WithField("session_id", id))
	}
	if op := wcontext.GetOperation(ctx); op != "unknown-operation" {
		fields = append(fields, WithField("operation", op))
	}
	if elapsed := wcontext.GetDuration(ctx); elapsed > 0 {
		fields = append(fields, WithField("elapsed", elapsed.Round(time.Millisecond).String()))
	}
	return fields
}

// WithContext returns a logger that prefixes every entry with the tracing fields of ctx
func WithContext(ctx context.Context, log Logger) Logger {
	if ctx == nil {
		return log
	}
	return &contextLogger{ctx: ctx, next: log}
}

// contextLogger computes the fields per entry so that elapsed stays current
type contextLogger struct {
	ctx  context.Context
	next Logger
}

func (l *contextLogger) with(fields []Field) []Field {
	return append(ContextFields(l.ctx), fields...)
}

func (l *contextLogger) Info(message string, fields ...Field) {
	l.next.Info(message, l.with(fields)...)
}

func (l *contextLogger) Error(message string, fields ...Field) {
	l.next.Error(message, l.with(fields)...)
}

func (l *contextLogger) Warn(message string, fields ...Field) {
	l.next.Warn(message, l.with(fields)...)
}

func (l *contextLogger) Debug(message string, fields ...Field) {
	l.next.Debug(message, l.with(fields)...)
}

// Success lines are user facing and stay without tracing fields
func (l *contextLogger) Success(message string, fields ...Field) {
	l.next.Success(message, fields...)
}

func (l *contextLogger) WithApp(app string) Logger {
	return &contextLogger{ctx: l.ctx, next: l.next.WithApp(app)}
}

package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	userIDKey
	threadIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithDecision tags the context with the user and thread a decision is made
// for. Every record logged with this context carries both IDs.
func WithDecision(ctx context.Context, userID, threadID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, threadIDKey, threadID)
}

// Attrs returns the context-scoped logging attributes as slog key/value pairs.
func Attrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v, _ := ctx.Value(requestIDKey).(string); v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	if v, _ := ctx.Value(userIDKey).(string); v != "" {
		attrs = append(attrs, slog.String("user_id", v))
	}
	if v, _ := ctx.Value(threadIDKey).(string); v != "" {
		attrs = append(attrs, slog.String("thread_id", v))
	}
	return attrs
}

// contextHandler copies context-scoped attributes onto each record.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if attrs := Attrs(ctx); len(attrs) > 0 {
		rec.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}

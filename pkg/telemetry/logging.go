// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ConfigureSlog sets the global slog logger with trace-aware attributes.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(output, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds a kernel logger without touching the global default.
// Records logged with a context carrying a valid span gain trace_id and
// span_id attributes; a context tagged with WithSession or WithCapability
// adds session_id and capability.
func NewLogger(output io.Writer, level, format string) *slog.Logger {
	return slog.New(newSlogHandler(output, level, format))
}

func newSlogHandler(output io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &kernelHandler{next: base}
}

type logFieldsKey struct{}

// logFields is the session identity carried on a context for logging.
type logFields struct {
	sessionID  string
	capability string
}

func fieldsFromContext(ctx context.Context) logFields {
	if ctx == nil {
		return logFields{}
	}
	f, _ := ctx.Value(logFieldsKey{}).(logFields)
	return f
}

// WithSession tags ctx so records logged with it carry session_id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	f := fieldsFromContext(ctx)
	f.sessionID = sessionID
	return context.WithValue(ctx, logFieldsKey{}, f)
}

// WithCapability tags ctx so records logged with it carry capability.
func WithCapability(ctx context.Context, capability string) context.Context {
	f := fieldsFromContext(ctx)
	f.capability = capability
	return context.WithValue(ctx, logFieldsKey{}, f)
}

// kernelHandler adds trace and session identity from the context. Keys the
// caller already set on the record are left alone.
type kernelHandler struct {
	next slog.Handler
}

func (h *kernelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *kernelHandler) Handle(ctx context.Context, record slog.Record) error {
	traceID, spanID := spanIDsFromContext(ctx)
	f := fieldsFromContext(ctx)
	for _, kv := range [...]struct{ key, value string }{
		{"session_id", f.sessionID},
		{"capability", f.capability},
		{"trace_id", traceID},
		{"span_id", spanID},
	} {
		if kv.value != "" && !recordHasAttr(record, kv.key) {
			record.AddAttrs(slog.String(kv.key, kv.value))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *kernelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &kernelHandler{next: h.next.WithAttrs(attrs)}
}

func (h *kernelHandler) WithGroup(name string) slog.Handler {
	return &kernelHandler{next: h.next.WithGroup(name)}
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

func spanIDsFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return "", ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
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

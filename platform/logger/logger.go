// Package logger wraps log/slog with the fields and helpers the services share.
// Development gets a debug-level text handler, every other env gets JSON.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey is set by httpkit.RequestID.
	RequestIDKey contextKey = "request_id"
	// TaskIDKey is set by the queue worker for each task.
	TaskIDKey contextKey = "task_id"
)

// contextFields are copied from a context into log records by WithContext.
var contextFields = []contextKey{RequestIDKey, TaskIDKey}

type Logger struct {
	*slog.Logger
}

func New(env string) *Logger {
	return newWithWriter(env, os.Stdout)
}

func newWithWriter(env string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
}

// Discard drops every record. Tests use it.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext adds the request and task ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var attrs []any
	for _, key := range contextFields {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.With(attrs...)}
}

func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.With(args...)}
}

func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// StoreError is for failures of the shared counter store (redis).
func (l *Logger) StoreError(operation, key string, err error) {
	l.Error("store_error",
		slog.String("operation", operation),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

func (l *Logger) RateLimitExceeded(scope, policy string, count int64) {
	l.Warn("rate_limit_exceeded",
		slog.String("scope", scope),
		slog.String("policy", policy),
		slog.Int64("count", count),
	)
}

// WebhookAttempt logs successful attempts at info and failed ones at warn.
func (l *Logger) WebhookAttempt(webhookID, eventType string, attempt, status int, success bool, err error) {
	attrs := []any{
		slog.String("webhook_id", webhookID),
		slog.String("event_type", eventType),
		slog.Int("attempt", attempt),
		slog.Int("status", status),
		slog.Bool("success", success),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if success {
		l.Info("webhook_attempt", attrs...)
		return
	}
	l.Warn("webhook_attempt", attrs...)
}

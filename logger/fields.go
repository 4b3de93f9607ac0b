package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldScheduleID  = "schedule_id"
	FieldExecutionID = "execution_id"
	FieldReportID    = "report_id"
	FieldRequestID   = "request_id"
	FieldOwner       = "owner"

	// Components
	FieldComponent = "component"
	FieldSource    = "source"

	// Operations
	FieldKeyword     = "keyword"
	FieldAttempt     = "attempt"
	FieldMaxAttempts = "max_attempts"
	FieldMethod      = "method"
	FieldPath        = "path"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"
	FieldTick       = "tick"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"
	FieldPosts = "posts"

	// Status
	FieldStatus  = "status"
	FieldOutcome = "outcome"

	FieldSymbol = "symbol"
)

// Context keys for propagating logging context
type contextKey string

const (
	scheduleIDKey contextKey = "logger_schedule_id"
	requestIDKey  contextKey = "logger_request_id"
)

// WithScheduleID adds a schedule ID to the context for logging
func WithScheduleID(ctx context.Context, scheduleID string) context.Context {
	return context.WithValue(ctx, scheduleIDKey, scheduleID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(scheduleIDKey).(string); ok && id != "" {
		fields = append(fields, FieldScheduleID, id)
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, FieldRequestID, id)
	}

	return fields
}

// FromContext returns base with the fields carried by ctx attached
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

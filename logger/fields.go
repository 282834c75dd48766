package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across cronctl.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldEntryID  = "entry_id"
	FieldEntityID = "entity_id"
	FieldPassID   = "pass_id"

	// Components
	FieldComponent = "component"
	FieldPass      = "pass"

	// Scheduling
	FieldAction      = "action"
	FieldInstanceKey = "instance_key"
	FieldCadence     = "cadence"
	FieldInterval    = "interval_seconds"
	FieldTimestamp   = "timestamp"
	FieldDesiredAt   = "desired_at"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount     = "count"
	FieldBatchSize = "batch_size"
	FieldPage      = "page"

	// Status
	FieldStatus = "status"

	// Files and paths
	FieldPath = "path"

	// Network
	FieldAddress = "address"

	FieldSymbol = "symbol" // segment symbol (꩜, ✿, ❀, ⊔)
)

type contextKey string

const (
	passIDKey    contextKey = "logger_pass_id"
	componentKey contextKey = "logger_component"
)

// WithPassID adds a reconciliation pass ID to the context for logging
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, passIDKey, passID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if passID, ok := ctx.Value(passIDKey).(string); ok && passID != "" {
		fields = append(fields, FieldPassID, passID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base with fields extracted from context attached.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	r := runner.New(q, jobs, clk, cfg, logger.ComponentLogger("pulse.runner"), nil)
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Package errors provides error handling for cronctl.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Markers for classifying store failures across wrap layers
//
// Usage:
//
//	if err := store.Cancel(ctx, action, key); err != nil {
//	    return errors.Wrap(err, "failed to cancel stale entry")
//	}
//
//	if errors.IsStoreUnavailable(err) {
//	    // leave unconverged, retry on next trigger
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Markers
var (
	Mark = crdb.Mark
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors shared by the stores and the reconciliation engine.
// Stores mark driver failures with these so callers can classify them
// with Is() regardless of how many wrap layers sit on top.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrConflict indicates a uniqueness violation, e.g. a second pending
	// entry for the same (action, instance_key)
	ErrConflict = New("resource conflict")

	// ErrServiceUnavailable indicates a backing store call failed
	ErrServiceUnavailable = New("service unavailable")

	// ErrConfigurationRejected indicates a caller-supplied cadence or job
	// definition was dropped
	ErrConfigurationRejected = New("configuration rejected")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict.
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsStoreUnavailable checks if an error is or wraps ErrServiceUnavailable.
func IsStoreUnavailable(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// MarkUnavailable marks err as a store failure and adds context.
func MarkUnavailable(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(Mark(err, ErrServiceUnavailable), context)
}

// MarkConflict marks err as a uniqueness conflict and adds context.
func MarkConflict(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(Mark(err, ErrConflict), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewRejectedError creates a configuration-rejected error with a formatted message
func NewRejectedError(format string, args ...interface{}) error {
	return Wrap(ErrConfigurationRejected, Newf(format, args...).Error())
}

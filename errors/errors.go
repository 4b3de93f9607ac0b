// Package errors provides error handling for keywatch.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marks, so a wrapped error can be tested against a sentinel with Is
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify an error without changing its message
//	return errors.Mark(err, errors.ErrStoreUnavailable)
//
//	// Check errors
//	if errors.Is(err, errors.ErrStoreUnavailable) {
//	    // wait for the next tick
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
	Mark         = crdb.Mark

	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
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

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Common sentinel errors. Use these with errors.Is(); wrap or Mark them to
// add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrInvalidTransition indicates a schedule status change the state machine does not allow
	ErrInvalidTransition = New("invalid status transition")

	// ErrQuotaReached indicates a schedule has already produced all of its reports
	ErrQuotaReached = New("report quota reached")
)

// Execution taxonomy. Everything except ErrExhaustedRetries is transient and
// retried within one execution cycle.
var (
	// ErrStoreUnavailable indicates the shared database could not be reached
	ErrStoreUnavailable = New("store unavailable")

	// ErrCollectionFailed indicates the data collector failed for this attempt
	ErrCollectionFailed = New("collection failed")

	// ErrGenerationFailed indicates the report generator failed for this attempt
	ErrGenerationFailed = New("generation failed")

	// ErrPersistFailed indicates the report could not be saved for this attempt
	ErrPersistFailed = New("persist failed")

	// ErrExhaustedRetries ends one execution cycle. The schedule is advanced, not failed.
	ErrExhaustedRetries = New("exhausted retries")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsStoreUnavailable checks if an error is or carries the ErrStoreUnavailable mark
func IsStoreUnavailable(err error) bool {
	return err != nil && Is(err, ErrStoreUnavailable)
}

// IsRetryable reports whether an attempt that failed with err may be retried
// inside the same execution cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return IsAny(err, ErrStoreUnavailable, ErrCollectionFailed, ErrGenerationFailed, ErrPersistFailed)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

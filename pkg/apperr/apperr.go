package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category. Every error that crosses
// the service boundary carries exactly one Kind.
type Kind string

const (
	KindMalformedInput    Kind = "malformed_input"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindDuplicateIndex    Kind = "duplicate_index"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindIndexNotFound     Kind = "index_not_found"
	KindColumnNotFound    Kind = "column_not_found"
	KindInvalidOperator   Kind = "invalid_operator"
	KindMissingParameter  Kind = "missing_parameter"
	KindUnsupportedIntent Kind = "unsupported_intent"
	KindNoData            Kind = "no_data"
	KindExecution         Kind = "execution_error"
)

// Error pairs a Kind with a human-readable detail string. It optionally
// wraps an underlying cause for errors.Is/As chains.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a formatted detail string.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and detail to an underlying error.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err, or KindExecution if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecution
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Detail returns the detail string of err, falling back to err.Error().
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

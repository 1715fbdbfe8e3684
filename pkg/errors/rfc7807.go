// Package errors provides a typed error hierarchy for the exchange core.
// It keeps an RFC 7807-flavored shape (a stable Kind, a human
// message, optional field-level detail, and a wrapped cause) but drops the
// HTTP problem-details encoding: transport framing is explicitly out of
// scope for this module, so errors here are Go values, not wire responses.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// Kind identifies one of the error categories from the error handling
// design: each is either a synchronous reject to the caller or
// an internal condition that halts the owning actor.
type Kind string

const (
	KindValidationFailed      Kind = "ValidationFailed"
	KindInsufficientFunds     Kind = "InsufficientFunds"
	KindAssetMismatch         Kind = "AssetMismatch"
	KindOverflow              Kind = "Overflow"
	KindRateLimited           Kind = "RateLimited"
	KindSelfTradePrevented    Kind = "SelfTradePrevented"
	KindVenueDegraded         Kind = "VenueDegraded"
	KindStale                 Kind = "Stale"
	KindSettlementBug         Kind = "SettlementBug"
	KindConservationViolation Kind = "ConservationViolation"
	KindNotFound              Kind = "NotFound"
)

// Fatal reports whether a Kind halts its owning actor rather than being a
// synchronous, client-recoverable rejection.
func (k Kind) Fatal() bool {
	return k == KindSettlementBug || k == KindConservationViolation
}

func NewKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Error is a custom error type for passing structured failure information
// across a package boundary.
type Error struct {
	// Kind is the returned error category.
	Kind Kind `json:"kind"`
	// Message is the human readable string describing the error.
	Message string `json:"message"`
	// Fields carries field-level validation detail, when applicable.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Error implements error.
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str += fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with Kind set to the given value.
func (e *Error) Reason(kind Kind) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// WithCause returns a copy of the error with the cause set.
func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with the given message.
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace attaches the current goroutine's stack to the error.
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

func (e *Error) WithFields(fields []FieldError) *Error {
	err := *e
	err.Fields = fields
	return &err
}

// WithField returns a copy of the error with one more field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	err := *e
	err.Fields = append(err.Fields, NewFieldError(kind, field, message))
	return &err
}

// Is implements the interface needed by errors.Is. It compares only Kind,
// so errors.Is(err, errors.NewKind(errors.KindInsufficientFunds)) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	other, ok := target.(*Error)
	if !ok {
		if e.cause != nil {
			return Is(e.cause, target)
		}
		return false
	}
	return other.Kind == e.Kind
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

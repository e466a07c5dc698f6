// Package errors provides kind-tagged errors for the order intake pipeline and
// RFC 7807 Problem Details for the local control API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds. Each maps to one class of failure in the intake pipeline.
const (
	KindTransport     = "transport"
	KindNormalization = "normalization"
	KindDecision      = "decision"
	KindValidation    = "validation"
	KindStale         = "stale"
	KindNotFound      = "not_found"
	KindInternal      = "internal"
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind" validate:"required"`
	Field   string `json:"field" validate:"required"`
	Message string `json:"message,omitempty" validate:"required"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

var (
	Transport     *Error = NewWithKind(KindTransport)
	Normalization *Error = NewWithKind(KindNormalization)
	Decision      *Error = NewWithKind(KindDecision)
	Validation    *Error = NewWithKind(KindValidation)
	Stale         *Error = NewWithKind(KindStale)
	NotFound      *Error = NewWithKind(KindNotFound)
	Internal      *Error = NewWithKind(KindInternal)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// StatusCode is the upstream HTTP status when the error came from the backend
	StatusCode int `json:"status_code,omitempty"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

func Wrap(err error) *Error {
	return &Error{Kind: KindInternal, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.StatusCode != 0 {
		str += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithStatus makes a copy of the error carrying the upstream HTTP status
func (e *Error) WithStatus(code int) *Error {
	err := *e
	err.StatusCode = code
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status used by the control API
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindDecision:
		return http.StatusBadGateway
	case KindTransport:
		return http.StatusServiceUnavailable
	case KindStale:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

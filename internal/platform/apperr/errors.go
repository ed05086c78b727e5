package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Use errors.Is to test for them.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrAccessDenied       = errors.New("access denied")
	ErrConflict           = errors.New("conflict")
	ErrCascadeFailure     = errors.New("cascade failure")
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func newf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newf(ErrValidation, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(ErrNotFound, format, args...)
}

func SchedulingConflict(format string, args ...interface{}) error {
	return newf(ErrSchedulingConflict, format, args...)
}

func AccessDenied(format string, args ...interface{}) error {
	return newf(ErrAccessDenied, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(ErrConflict, format, args...)
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind error, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Message returns the caller-facing part of err. Store failures and other
// unclassified errors are reduced to a generic message.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	var ce interface{ CascadeMessage() string }
	if errors.As(err, &ce) {
		return ce.CascadeMessage()
	}
	return "internal server error"
}

// KindName is the machine-readable kind reported to HTTP clients.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrSchedulingConflict):
		return "SchedulingConflict"
	case errors.Is(err, ErrAccessDenied):
		return "AccessDenied"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrCascadeFailure):
		return "CascadeFailure"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrSchedulingConflict), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

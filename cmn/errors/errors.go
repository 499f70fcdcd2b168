// Package errors defines the engine's error taxonomy (§7): a small set of
// typed errors, each carrying the HTTP status it maps to and a stable code,
// wrapped at creation sites with github.com/pkg/errors for stack context —
// the teacher itself favors typed sentinel-ish errors in cmn plus ad hoc
// fmt.Errorf wrapping; pkg/errors gives the richer "wrap once, inspect with
// Cause" idiom that the wider retrieval pack's storage-driver code also
// leans on.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Code is a stable, machine-readable error identifier (distinct from the
// HTTP status, which can be shared by several codes).
type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeBusy            Code = "BUSY"
	CodeDriverContract  Code = "DRIVER_CONTRACT"
	CodeDriverError     Code = "DRIVER_ERROR"
	CodeStreamClosed    Code = "STREAM_CLOSED"
)

// Error is the engine's uniform error shape: every typed error below
// implements this via embedding.
type Error struct {
	Code    Code
	Status  int
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetails attaches structured diagnostic details (e.g. a
// DriverContractError's missing-method list) and returns the receiver for
// chaining at the construction site.
func (e *Error) WithDetails(d map[string]interface{}) *Error {
	e.Details = d
	return e
}

func newErr(code Code, status int, format string, a ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, a...)}
}

// ValidationError — bad input, surfaces as HTTP 400.
func ValidationError(format string, a ...interface{}) *Error {
	return newErr(CodeValidation, http.StatusBadRequest, format, a...)
}

// NotFoundError — HTTP 404.
func NotFoundError(format string, a ...interface{}) *Error {
	return newErr(CodeNotFound, http.StatusNotFound, format, a...)
}

// ForbiddenError — HTTP 403.
func ForbiddenError(format string, a ...interface{}) *Error {
	return newErr(CodeForbidden, http.StatusForbidden, format, a...)
}

// BusyError — HTTP 409, a job/index operation is already running.
func BusyError(format string, a ...interface{}) *Error {
	return newErr(CodeBusy, http.StatusConflict, format, a...)
}

// DriverContractError — a driver violated its declared contract (§4.1).
// Always non-retryable, always 500, always carries Details.
func DriverContractError(details map[string]interface{}, format string, a ...interface{}) *Error {
	e := newErr(CodeDriverContract, http.StatusInternalServerError, format, a...)
	e.Details = details
	return e
}

// DriverError wraps an underlying driver failure with a caller-supplied
// HTTP status (defaulting to 500 for anything outside the 4xx/5xx range).
func DriverError(status int, cause error, format string, a ...interface{}) *Error {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	e := newErr(CodeDriverError, status, format, a...)
	e.cause = errors.WithStack(cause)
	return e
}

// StreamClosedError — mid-response streaming failure, HTTP 500, never
// retried.
func StreamClosedError(cause error) *Error {
	e := newErr(CodeStreamClosed, http.StatusInternalServerError, "stream closed prematurely")
	e.cause = cause
	return e
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf maps any error to an HTTP status: *Error carries its own, any
// unknown error defaults to 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

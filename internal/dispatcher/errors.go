package dispatcher

import "fmt"

// Code is a stable numeric status associated with an Error.
type Code int

// StatusCode is the symbolic name attached to a Code (spec.md §7).
type StatusCode string

const (
	CodeBadRequest       Code = 400
	CodeNotFound         Code = 404
	CodeServerError      Code = 500
	CodeInvalidArgument  Code = -1 // registration-time only; never leaves the process at runtime.
)

const (
	StatusBadRequest      StatusCode = "BAD_REQUEST"
	StatusNotFound        StatusCode = "NOT_FOUND"
	StatusServerError     StatusCode = "SERVER_ERROR"
	StatusInvalidArgument StatusCode = "INVALID_ARGUMENT"
)

// Error is the taxonomy error type that handlers and transport adapters
// in this repository raise instead of a bare error string. It exposes
// status, statusCode and message as spec.md §7 requires.
type Error struct {
	Status     Code
	StatusCode StatusCode
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a taxonomy error with an explicit status and message.
func NewError(status Code, statusCode StatusCode, message string) *Error {
	return &Error{Status: status, StatusCode: statusCode, Message: message}
}

// Wrap coerces an arbitrary error into the taxonomy, attaching cause for
// %w-style unwrapping. A nil cause still yields a non-nil *Error carrying
// only status, statusCode and message.
func Wrap(status Code, statusCode StatusCode, message string, cause error) *Error {
	return &Error{Status: status, StatusCode: statusCode, Message: message, cause: cause}
}

// ErrNotFound is returned by Dispatch when the route table is exhausted
// without a match (spec.md §4.3, testable property 5).
func ErrNotFound(path string) *Error {
	return NewError(CodeNotFound, StatusNotFound, "Not Found")
}

// ErrBadRequest is reserved for handler use (spec.md §7); the core never
// raises it itself.
func ErrBadRequest(message string) *Error {
	return NewError(CodeBadRequest, StatusBadRequest, message)
}

// ErrServerError coerces any unclassified handler failure.
func ErrServerError(cause error) *Error {
	msg := "internal server error"
	if cause != nil {
		msg = cause.Error()
	}
	return Wrap(CodeServerError, StatusServerError, msg, cause)
}

// ErrInvalidArgument is raised at registration time when a pattern or
// handler is the wrong type (spec.md §4.1, §4.2). It is a programmer
// error and is never expected to surface at runtime.
func ErrInvalidArgument(message string) *Error {
	return NewError(CodeInvalidArgument, StatusInvalidArgument, message)
}

// AsTaxonomy coerces any error into a taxonomy Error, defaulting to
// SERVER_ERROR for anything not already typed (spec.md §7 propagation
// rule).
func AsTaxonomy(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return ErrServerError(err)
}

// Package errors defines the structured error taxonomy shared by the CLI
// and the HTTP API.
//
// Every error carries a stable machine-readable code. Codes are part of the
// wire contract: the server maps them to HTTP statuses and clients are
// expected to branch on them rather than on message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeExecutionFailure Code = "EXECUTION_FAILURE"
	CodeInterrupted      Code = "INTERRUPTED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is the structured error returned across package boundaries.
type Error struct {
	Code    Code
	Message string
	// Param names the offending parameter for INVALID_ARGUMENT errors.
	Param   string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (parameter %q)", e.Code, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a validation failure, naming the parameter that
// violated its constraint.
func InvalidArgument(param, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Param: param, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

// As is a passthrough to the standard library so callers importing this
// package as apperrors do not need a second errors import.
func As(err error, target any) bool { return stderrors.As(err, target) }

// CodeOf extracts the structured code from err, or INTERNAL_ERROR when err
// is not a structured Error.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsInvalidArgument(err error) bool { return CodeOf(err) == CodeInvalidArgument }
func IsNotFound(err error) bool        { return CodeOf(err) == CodeNotFound }
func IsConflict(err error) bool        { return CodeOf(err) == CodeConflict }

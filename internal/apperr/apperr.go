// Package apperr defines the coded errors services return to the HTTP layer.
// Codes follow a Domain.Kind shape and are mapped to status codes in httpx.
package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeEmailAlreadyExists = "User.EmailAlreadyExists"
	CodeUserNotFound       = "User.NotFound"
	CodeUserValidation     = "User.Validation"
	CodeInvalidCredentials = "Auth.InvalidCredentials"
	CodeInvalidToken       = "Auth.InvalidToken"
	CodeTaskNotFound       = "Task.NotFound"
	CodeTaskNotOwned       = "Task.NotOwned"
	CodeTaskValidation     = "Task.Validation"
	CodeRequestCancelled   = "Request.Cancelled"
	CodeRequestValidation  = "Request.Validation"
	CodeRouteNotFound      = "Request.NotFound"
	CodeRateLimited        = "Request.RateLimited"
	CodeInternal           = "Server.Internal"
)

// Error carries a stable code alongside a human readable description.
type Error struct {
	Code        string
	Description string
	cause       error
}

// New constructs a coded error.
func New(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Newf constructs a coded error with a formatted description.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause while keeping the coded surface.
func Wrap(code, description string, cause error) *Error {
	return &Error{Code: code, Description: description, cause: cause}
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Description
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code, or Server.Internal for uncoded errors.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

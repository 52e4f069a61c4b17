// Package domainerrors provides coded errors that services return and the
// HTTP layer translates into status codes and JSON envelopes. Stores do not
// use these directly; they return pkg/sentinel errors which services wrap.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a category of domain failure.
type Code string

const (
	CodeBadRequest          Code = "bad_request"
	CodeUnauthorized        Code = "unauthorized"
	CodeForbidden           Code = "forbidden"
	CodeConflict            Code = "conflict"
	CodeTooManyRequests     Code = "too_many_requests"
	CodeInternal            Code = "internal"
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeInvalidSecondFactor Code = "invalid_second_factor"
	CodeTokenExpired        Code = "token_expired"
	CodeTokenInvalid        Code = "token_invalid"
	CodeNoRefreshToken      Code = "no_refresh_token"
	CodeCsrfMismatch        Code = "csrf_mismatch"
)

// Error is a domain error with a stable code and a human-readable message.
// The message is safe to return to clients; anything sensitive stays in the
// wrapped cause, which only reaches logs.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a domain error with the same code and
// message, so tests can compare against a freshly constructed value.
func (e *Error) Is(target error) bool {
	var de *Error
	if !errors.As(target, &de) {
		return false
	}
	return e.Code == de.Code && e.Message == de.Message
}

// New constructs a domain error with the given code and client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause to a new domain error. The cause is preserved for
// errors.Is/As and logging but never serialized to clients.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the domain code from err, or CodeInternal if err carries
// no domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message of err, or a generic fallback.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// ToHTTPStatus maps a domain code to an HTTP status. Credential and token
// failures all collapse to 401 so responses never disclose which check
// failed.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidCredentials, CodeInvalidSecondFactor,
		CodeTokenExpired, CodeTokenInvalid, CodeNoRefreshToken:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCsrfMismatch:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

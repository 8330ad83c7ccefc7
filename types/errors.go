package types

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorCode is the machine readable code surfaced as {"error": code}.
type ErrorCode string

const (
	ErrBadRequest            ErrorCode = "badRequest"
	ErrDatabase              ErrorCode = "databaseError"
	ErrIgnored               ErrorCode = "ignored"
	ErrInvalidActor          ErrorCode = "invalidActor"
	ErrInvalidActorURL       ErrorCode = "invalidActorUrl"
	ErrInvalidServerResponse ErrorCode = "invalidServerResponse"
	ErrInvalidSignature      ErrorCode = "invalidSignature"
	ErrMissingInbox          ErrorCode = "missingInbox"
	ErrMissingInstance       ErrorCode = "missingInstance"
	ErrNotFound              ErrorCode = "notFound"
	ErrRequestSigning        ErrorCode = "requestSigningError"
	ErrUnknown               ErrorCode = "unknownError"
	ErrNotImplemented        ErrorCode = "X_notImplemented"
)

// ErrorClass selects the HTTP status an error is reported with.
type ErrorClass int

const (
	ClassDefault ErrorClass = iota
	ClassGeneric
	ClassBadRequest
	ClassNotFound
)

// Error is the tagged error value passed between modules.
type Error struct {
	Code   ErrorCode
	Class  ErrorClass
	Reason string
	cause  error
}

func NewError(code ErrorCode, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func WrapError(code ErrorCode, err error, reason string) *Error {
	return &Error{Code: code, Reason: reason, cause: err}
}

// BadRequest returns an error with the given code reported as 400.
func BadRequest(code ErrorCode, reason string) *Error {
	return &Error{Code: code, Class: ClassBadRequest, Reason: reason}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Status returns the HTTP status for the error.
func (e *Error) Status() int {
	switch e.Class {
	case ClassGeneric:
		return http.StatusInternalServerError
	case ClassBadRequest:
		return http.StatusBadRequest
	case ClassNotFound:
		return http.StatusNotFound
	}

	switch e.Code {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the error code of err, or ErrUnknown if err carries none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// StatusOf returns the HTTP status err should be reported with.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func (c ErrorCode) String() string {
	return string(c)
}

func (c ErrorCode) Errorf(format string, args ...any) *Error {
	return &Error{Code: c, Reason: fmt.Sprintf(format, args...)}
}

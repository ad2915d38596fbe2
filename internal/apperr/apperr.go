// Package apperr defines the typed error vocabulary shared by every
// component that can reject a request: the six kinds named for this
// service plus a fixed mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind discriminates why an operation failed. Every component that can
// reject a caller raises one of these instead of a bare error string.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindAuthentication      Kind = "authentication"
	KindPermission          Kind = "permission"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInconsistency       Kind = "inconsistency"
	KindInternal            Kind = "internal"
)

// Error is the typed error carried from components up to the HTTP
// boundary. Message is safe to return to the caller; Cause, if present,
// is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode maps a Kind onto the fixed HTTP code spec'd for it.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindInconsistency:
		return http.StatusInternalServerError
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidRequest(message string) *Error { return newErr(KindInvalidRequest, message, nil) }

func Authentication(message string) *Error { return newErr(KindAuthentication, message, nil) }

func Permission(message string) *Error { return newErr(KindPermission, message, nil) }

func UpstreamUnavailable(message string, cause error) *Error {
	return newErr(KindUpstreamUnavailable, message, cause)
}

func Inconsistency(message string, cause error) *Error {
	return newErr(KindInconsistency, message, cause)
}

func Internal(message string, cause error) *Error {
	return newErr(KindInternal, message, cause)
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to KindInternal when err does
// not wrap an *Error — a handler bug should still fail closed as a 500
// rather than leak an unclassified error shape.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

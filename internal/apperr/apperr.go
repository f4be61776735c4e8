// Package apperr defines the error kinds surfaced to API callers and their
// HTTP status mapping. Collaborator errors are wrapped into one of these
// kinds at the package boundary that calls the collaborator.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrGeneration      = errors.New("generation failed")
	ErrUnavailable     = errors.New("service unavailable")
	ErrInvalidInput    = errors.New("invalid input")
)

// Reasons carried by Forbidden errors.
const (
	ReasonAdminRequired = "admin_required"
	ReasonProRequired   = "pro_required"
	ReasonSelfDemotion  = "self_demotion"
)

// Error attaches a kind and an optional machine-readable reason to a cause.
type Error struct {
	Kind   error
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Unauthenticated(err error) error {
	return &Error{Kind: ErrUnauthenticated, Err: err}
}

func Forbidden(reason string) error {
	return &Error{Kind: ErrForbidden, Reason: reason}
}

func NotFound(what string) error {
	return &Error{Kind: ErrNotFound, Msg: what + " not found"}
}

func Invalid(msg string) error {
	return &Error{Kind: ErrInvalidInput, Msg: msg}
}

func Generation(err error) error {
	return &Error{Kind: ErrGeneration, Err: err}
}

func Unavailable(err error) error {
	return &Error{Kind: ErrUnavailable, Err: err}
}

// ReasonOf returns the reason attached to err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// PublicMessage is the message safe to show a caller. Internal errors are
// not echoed.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case ErrGeneration:
			return "generation failed, please retry"
		case ErrUnavailable:
			return "service temporarily unavailable"
		case ErrUnauthenticated:
			return "unauthorized"
		}
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	return "internal server error"
}

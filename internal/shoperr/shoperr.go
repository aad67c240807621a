// Package shoperr defines the typed error kinds used across the storage
// node, quorum coordinator, and client so HTTP handlers and sync logic can
// dispatch on kind instead of matching error strings.
package shoperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories from §7.
type Kind string

const (
	BadRequest        Kind = "BAD_REQUEST"
	NotFound          Kind = "NOT_FOUND"
	Conflict          Kind = "CONFLICT"
	QuorumUnavailable Kind = "QUORUM_UNAVAILABLE"
	Timeout           Kind = "TIMEOUT"
	Internal          Kind = "INTERNAL"
)

// HTTPStatus maps a Kind to the status code the node's REST surface
// returns for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case QuorumUnavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on it
// via errors.As without parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a bare Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to Internal otherwise.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Package apperr defines the error taxonomy shared by every layer of
// the scheduler. The stable mapping from error kind to HTTP status
// lives in the api package (statusForKind).
//
// Errors are constructed with their Kind at the point of origin so the
// API layer never needs to sniff concrete error types to pick a status
// code (see spec REDESIGN FLAGS: "Ad-hoc exception-to-HTTP mapping").
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories defined by the spec's error
// handling design. It is not a type name — callers should match on it
// with errors.As against *Error, not on concrete error values.
type Kind string

const (
	Validation   Kind = "validation"
	NotFound     Kind = "not_found"
	InvalidState Kind = "invalid_state"
	Store        Kind = "store"
	GPU          Kind = "gpu"
	Runner       Kind = "runner"
	Notification Kind = "notification"
	Auth         Kind = "auth"
)

// Error is an application error tagged with a Kind so it can be
// propagated to an HTTP status without inspecting its message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an underlying
// cause, preserving it for errors.Is/errors.As chains.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to Store for anything unrecognized — an opaque backend
// fault is the conservative default per spec §7.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Store
}

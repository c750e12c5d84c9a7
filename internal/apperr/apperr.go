// Package apperr defines the error taxonomy shared by the pooling
// services: validation, not-found, forbidden, conflict and upstream.
// Handlers map kinds to HTTP statuses; everything else wraps with %w.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error carries a kind alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

func NotFound(resource string) *Error {
	return New(KindNotFound, resource+" not found")
}

func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

func Conflict(msg string) *Error { return New(KindConflict, msg) }

func Upstream(msg string, err error) *Error {
	return Wrap(KindUpstream, msg, err)
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsForbidden(err error) bool  { return KindOf(err) == KindForbidden }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsUpstream(err error) bool   { return KindOf(err) == KindUpstream }

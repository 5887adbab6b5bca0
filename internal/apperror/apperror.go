// Package apperror classifies failures so ingress handlers can pick the
// right acknowledgment policy without inspecting error strings.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// Transient covers database or dispatcher outages; it is the only kind
	// eligible for a provider-driven retry.
	Transient Kind = iota
	Authentication
	Validation
	NotFound
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	default:
		return "transient"
	}
}

// Error is a classified error.
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

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case Authentication:
		return http.StatusUnauthorized
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Authenticationf(format string, args ...any) *Error {
	return newf(Authentication, nil, format, args...)
}

func Validationf(format string, args ...any) *Error {
	return newf(Validation, nil, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newf(NotFound, nil, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newf(Conflict, nil, format, args...)
}

// Wrap marks err as transient unless it is already classified.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: Transient, Msg: msg, Err: err}
}

// KindOf returns the kind of err; unclassified errors count as transient.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Transient
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status for any error.
func StatusCode(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.StatusCode()
	}
	return http.StatusInternalServerError
}

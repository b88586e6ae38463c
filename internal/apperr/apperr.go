// Package apperr classifies pipeline failures into explicit variants so callers
// (the retry policy, the HTTP boundary, the consumers) can decide what to do
// without inspecting concrete error types.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure variant carried by an *Error.
type Kind int

const (
	// KindTransient is the default for anything not explicitly classified.
	KindTransient Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "transient"
	}
}

// Error wraps a cause with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Invalid marks malformed input or an invalid state. Never retried.
func Invalid(err error) error { return wrap(KindInvalid, err) }

// Invalidf is Invalid(fmt.Errorf(...)).
func Invalidf(format string, args ...any) error { return Invalid(fmt.Errorf(format, args...)) }

// NotFound marks a missing record. Never retried.
func NotFound(err error) error { return wrap(KindNotFound, err) }

// Conflict marks already-exists or a lost compare-and-swap. Never retried.
func Conflict(err error) error { return wrap(KindConflict, err) }

// Transient marks store or transport unavailability.
func Transient(err error) error { return wrap(KindTransient, err) }

// KindOf returns the outermost classification in err's chain.
// Unclassified errors are transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsFatal reports whether err belongs to the fatal class: invalid input,
// not found or conflict.
func IsFatal(err error) bool { return err != nil && KindOf(err) != KindTransient }

// IsRetryable reports whether the retry policy may attempt err again.
// Transport timeouts stay retryable even though they match
// context.DeadlineExceeded; the policy itself stops when the caller's
// context is done.
func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}

func IsInvalid(err error) bool  { return err != nil && KindOf(err) == KindInvalid }
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }
func IsConflict(err error) bool { return err != nil && KindOf(err) == KindConflict }

// HTTPStatus maps a failure to the status code the API boundary responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

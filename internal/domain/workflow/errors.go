package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors for callers
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindStorage       Kind = "storage"
	KindInternal      Kind = "internal"
)

var (
	// ErrNotFound is returned for an unknown document type or id
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the actor role may not act on the current state
	ErrUnauthorized = errors.New("not authorized")

	// ErrValidation is returned for missing or malformed input
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when optimistic retries are exhausted
	ErrConflict = errors.New("version conflict")

	// ErrStorage is returned when the document store cannot be reached or written
	ErrStorage = errors.New("storage failure")

	// ErrInvalidTransition is returned when a trigger is not permitted from a state
	ErrInvalidTransition = errors.New("invalid state transition")
)

var kindSentinels = map[Kind]error{
	KindNotFound:      ErrNotFound,
	KindAuthorization: ErrUnauthorized,
	KindValidation:    ErrValidation,
	KindConflict:      ErrConflict,
	KindStorage:       ErrStorage,
}

// Error is a typed engine error. errors.Is matches it against the sentinel of its kind.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// NewError builds an Error with a formatted message
func NewError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error around a cause
func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg = msg + ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Retryable reports whether the caller may retry the same request
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindStorage
}

// KindOf extracts the error kind, defaulting to KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err is a conflict or storage failure
func IsRetryable(err error) bool {
	kind := KindOf(err)
	return kind == KindConflict || kind == KindStorage
}

package engine

import (
	"errors"
	"fmt"
)

// Kind tags every failure that leaves the engine.
type Kind string

const (
	KindInvalidContent    Kind = "InvalidContentError"
	KindDimensionMismatch Kind = "DimensionMismatchError"
	KindIncompleteUser    Kind = "IncompleteUserDataError"
	KindMissingSeedVector Kind = "MissingSeedVectorError"
	KindUnknownAction     Kind = "UnknownActionError"
	KindInvalidRequest    Kind = "InvalidRequestError"
	KindTransientBackend  Kind = "TransientBackendError"
	KindUnavailable       Kind = "EngineUnavailableError"
)

// Error is the structured error returned by every engine operation.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Transient marks a collaborator failure as retryable. Errors that already
// carry a kind are returned untouched.
func Transient(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindTransientBackend, err, format, args...)
}

// KindOf reports the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientBackend
}

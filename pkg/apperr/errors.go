package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to surface, resync or retry.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindPermissionDenied  Kind = "permission_denied"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindInvalidArgument   Kind = "invalid_argument"
	KindTransient         Kind = "transient"
	KindInternal          Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	// CurrentState is set for invalid transitions so clients can resync.
	CurrentState string
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func PermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// InvalidTransition reports a rejected state change on entity from current to target.
func InvalidTransition(entity, current, target string) *Error {
	return &Error{
		Kind:         KindInvalidTransition,
		Message:      fmt.Sprintf("cannot move %s from %s to %s", entity, current, target),
		CurrentState: current,
	}
}

func Invalid(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	return Is(err, KindTransient)
}

// CurrentState extracts the state carried by an invalid transition error.
func CurrentState(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.CurrentState
	}
	return ""
}

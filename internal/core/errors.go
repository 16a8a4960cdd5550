package core

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrLedger              = errors.New("ledger update failed")
	ErrPersistence         = errors.New("persistence failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Error attaches a kind and an optional subject to an underlying cause.
type Error struct {
	Kind    error
	Subject string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports a rejected input field.
func Validation(field, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Subject: field, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(what, id string) error {
	return &Error{Kind: ErrNotFound, Subject: what, Msg: id}
}

func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// LedgerFailure wraps a savings balance update failure for user.
func LedgerFailure(user string, err error) error {
	return &Error{Kind: ErrLedger, Subject: user, Err: err}
}

// PersistenceFailure wraps a failed write of derived state.
func PersistenceFailure(op string, err error) error {
	return &Error{Kind: ErrPersistence, Subject: op, Err: err}
}

// Unavailable reports that a dependent service could not be reached.
func Unavailable(service string, err error) error {
	return &Error{Kind: ErrUpstreamUnavailable, Subject: service, Err: err}
}

// IsRetryable reports whether the caller may retry the operation later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

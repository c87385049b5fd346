package services

import (
	"errors"
	"fmt"
)

// Kind classifies an economy error. A Kind is itself an error so callers can
// write errors.Is(err, services.InsufficientFunds).
type Kind int

const (
	UnknownKind Kind = iota
	NotFound
	UnknownAccount
	InsufficientFunds
	InvalidState
	AlreadyJoined
	AlreadySettled
	BelowMinimum
	NotEligible
	CapacityReached
	ValidationError
	InternalConsistencyError
)

var kindNames = map[Kind]string{
	UnknownKind:              "unknown error",
	NotFound:                 "not found",
	UnknownAccount:           "unknown account",
	InsufficientFunds:        "insufficient funds",
	InvalidState:             "invalid state",
	AlreadyJoined:            "already joined",
	AlreadySettled:           "already settled",
	BelowMinimum:             "below minimum",
	NotEligible:              "not eligible",
	CapacityReached:          "capacity reached",
	ValidationError:          "validation error",
	InternalConsistencyError: "internal consistency error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Error() string { return k.String() }

// Errorf builds an *Error of kind k.
func (k Kind) Errorf(format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches k to cause. A nil cause yields nil.
func (k Kind) Wrap(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error is the error type returned by every economy operation that fails for
// a reason the caller can act on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Kind
}

// Is matches on kind, so two errors of the same kind compare equal.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return e.Kind == t.Kind
	case Kind:
		return e.Kind == t
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or UnknownKind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return UnknownKind
}

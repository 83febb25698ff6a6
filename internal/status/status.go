// Package status defines the runtime's error taxonomy: the small,
// non-overlapping set of codes every component returns, and the
// structured error type that carries one plus operation context.
//
// This mirrors the teacher's device-error shape (Op/Code/Inner, with
// errors.Is/As support) generalized from ublk's device-lifecycle codes
// to the spec's handle/object/map taxonomy (spec §6.2, §7).
package status

import (
	"errors"
	"fmt"
)

// Code is one of the stable, caller-visible error codes. Numeric values
// are part of the wire contract (spec §6.2) and must never be
// renumbered.
type Code uint32

const (
	Success Code = iota
	OutOfResources
	NotFound
	InvalidParameter
	NoMoreKeys
	InvalidHandle
	InvalidObjectType
	AlreadyExists
	InvalidState
	Busy
	ExtensionFailedToLoad
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case OutOfResources:
		return "OUT_OF_RESOURCES"
	case NotFound:
		return "NOT_FOUND"
	case InvalidParameter:
		return "INVALID_PARAMETER"
	case NoMoreKeys:
		return "NO_MORE_KEYS"
	case InvalidHandle:
		return "INVALID_HANDLE"
	case InvalidObjectType:
		return "INVALID_OBJECT_TYPE"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case InvalidState:
		return "INVALID_STATE"
	case Busy:
		return "BUSY"
	case ExtensionFailedToLoad:
		return "EXTENSION_FAILED_TO_LOAD"
	default:
		return "UNKNOWN"
	}
}

// Error is a structured runtime error with a stable Code plus the
// operation context that produced it -- the same shape as the teacher's
// ublk *Error, generalized from device/queue context to the core's
// operation/handle context.
type Error struct {
	Op     string // operation that failed, e.g. "LOAD_CODE", "MAP_LOOKUP_ELEMENT"
	Handle uint64 // handle involved, if any (0 if not applicable)
	Code   Code
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by Code, so callers can write
// errors.Is(err, status.New("", status.NotFound, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New constructs a status Error.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Wrap attaches op/code context to an inner error.
func Wrap(op string, code Code, inner error) *Error {
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// WithHandle attaches a handle to an existing Error, for richer
// dispatcher-level diagnostics.
func (e *Error) WithHandle(h uint64) *Error {
	e2 := *e
	e2.Handle = h
	return &e2
}

// CodeOf extracts the Code from err, defaulting to InvalidParameter for
// any error that did not originate as a *Error -- the dispatcher must
// never let an unclassified error escape to the wire.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return InvalidParameter
}

// Package errs provides the uniform error taxonomy used across every layer
// of the tsdb core, from the histogram leaves up to the HTTP handlers.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the §7 error kinds. Every layer converts foreign errors
// (io, regexp, protobuf) into a Kind at the boundary it crosses.
type Kind int

const (
	Unknown Kind = iota
	InvalidArgument
	NotFound
	AlreadyExists
	ResourceExhausted
	DeadlineExceeded
	Unauthenticated
	Internal
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid-argument"
	case NotFound:
		return "not-found"
	case AlreadyExists:
		return "already-exists"
	case ResourceExhausted:
		return "resource-exhausted"
	case DeadlineExceeded:
		return "deadline-exceeded"
	case Unauthenticated:
		return "unauthenticated"
	case Internal:
		return "internal"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is the tagged-sum error type propagated by every component.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New builds an Error of the given kind with a formatted message.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts a foreign error into an Error of the given kind, preserving
// it as the Cause. If err is already an *Error, its Kind is preserved
// and k is ignored.
func Wrap(k Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: fmt.Sprintf(format, args...), Cause: err}
	}
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for foreign
// errors and Unknown for nil.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

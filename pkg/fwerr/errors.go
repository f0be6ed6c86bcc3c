package fwerr

import (
	"errors"
)

// Error kinds.
var (
	ErrBusy             = errors.New("busy")
	ErrTimeout          = errors.New("timeout")
	ErrNotReady         = errors.New("not ready")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrCancelled        = errors.New("cancelled")
	ErrTransport        = errors.New("transport failure")
)

var kinds = []error{
	ErrBusy,
	ErrTimeout,
	ErrNotReady,
	ErrInvalidParameter,
	ErrCancelled,
	ErrTransport,
}

// Error is a classified failure of a driver operation.
type Error struct {
	// Op names the operation that failed (e.g. "connect", "command SET_WOW_MODE").
	Op string

	// Kind is one of the package error kinds.
	Kind error

	// Err is the underlying cause, if any.
	Err error
}

// New returns an error of the given kind for op.
func New(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap returns an error of the given kind for op with err as its cause.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return New(op, kind)
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the first error kind found in err's chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsFault reports whether err is a fault the power controller must record:
// a firmware timeout or a transport failure.
func IsFault(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}

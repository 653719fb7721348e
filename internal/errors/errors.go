package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is the error type returned by the storage, log and state machine layers.
// It carries a formatted message and, optionally, the error that caused it along
// with the stack at the point it was wrapped.
type Error struct {
	Inner   error
	Message string
}

// New creates an error with the provided message and no cause.
func New(text string) *Error {
	return &Error{Message: text}
}

// WrapError creates an error with a formatted message that wraps inner. A nil inner
// error produces an error without a cause.
func WrapError(inner error, messagef string, messageArgs ...interface{}) *Error {
	var cause error
	if inner != nil {
		cause = errors.WithStack(inner)
	}
	return &Error{
		Inner:   cause,
		Message: fmt.Sprintf(messagef, messageArgs...),
	}
}

// Unwrap returns the wrapped error so that errors.Is and errors.As see through it.
func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Error() string {
	if e.Inner == nil {
		return e.Message
	}
	return e.Message + ": " + errors.Cause(e.Inner).Error()
}

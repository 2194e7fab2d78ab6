package transport

import (
	"errors"
	"fmt"
)

// StatusError reports a failed transport operation together with its
// numeric cause.
type StatusError struct {
	Op   string
	Code Status
	Err  error
}

// NewStatusError builds a StatusError for op with the given code.
func NewStatusError(op string, code Status, err error) *StatusError {
	return &StatusError{Op: op, Code: code, Err: err}
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s failed with status %d (%s): %v", e.Op, int(e.Code), e.Code, e.Err)
	}

	return fmt.Sprintf("transport: %s failed with status %d (%s)", e.Op, int(e.Code), e.Code)
}

// Unwrap returns the underlying cause, if any.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the numeric cause from err. It returns StatusOK for nil
// and the generic StatusInvalidConnection for errors without a status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}

	return StatusInvalidConnection
}

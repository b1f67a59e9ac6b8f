// Package errs defines the error taxonomy shared by every RTAPI component.
//
// All registry and allocation failures are returned synchronously as one of
// the sentinels below, usually wrapped in an *OpError that records the
// operation and the handle it was applied to. Callers test with errors.Is.
//
// Scheduling anomalies (deadline misses, traps) are never returned as errors;
// they travel through the exception handler instead.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidHandle    = errors.New("rtapi: invalid handle")
	ErrOutOfSlots       = errors.New("rtapi: out of slots")
	ErrOutOfRange       = errors.New("rtapi: value out of range")
	ErrAlreadySet       = errors.New("rtapi: already set")
	ErrAlreadyMapped    = errors.New("rtapi: already mapped by this module")
	ErrSizeMismatch     = errors.New("rtapi: size mismatch")
	ErrUnsupported      = errors.New("rtapi: operation not supported by flavor")
	ErrAllocationFailed = errors.New("rtapi: allocation failed")
	ErrRevisionMismatch = errors.New("rtapi: registry revision mismatch")
	ErrBusy             = errors.New("rtapi: resource busy")
	ErrNotInitialized   = errors.New("rtapi: not initialized")
)

// OpError records the operation and handle that produced an error.
type OpError struct {
	Op  string
	ID  int
	Err error
}

func (e *OpError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %02d: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Op wraps err with operation context. A nil err stays nil.
func Op(op string, id int, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, ID: id, Err: err}
}

// Allocation wraps an OS-level failure so that it matches
// ErrAllocationFailed while keeping the underlying cause reachable.
func Allocation(cause error, hint string) error {
	if hint == "" {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, cause)
	}
	return fmt.Errorf("%w: %w (%s)", ErrAllocationFailed, cause, hint)
}

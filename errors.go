package rtapi

import "github.com/GriffinCanCode/rtapi/internal/shared/errs"

// Errors returned by Runtime operations, usually wrapped in an *OpError.
var (
	ErrInvalidHandle    = errs.ErrInvalidHandle
	ErrOutOfSlots       = errs.ErrOutOfSlots
	ErrOutOfRange       = errs.ErrOutOfRange
	ErrAlreadySet       = errs.ErrAlreadySet
	ErrAlreadyMapped    = errs.ErrAlreadyMapped
	ErrSizeMismatch     = errs.ErrSizeMismatch
	ErrUnsupported      = errs.ErrUnsupported
	ErrAllocationFailed = errs.ErrAllocationFailed
	ErrRevisionMismatch = errs.ErrRevisionMismatch
	ErrBusy             = errs.ErrBusy
	ErrNotInitialized   = errs.ErrNotInitialized
)

// OpError records the operation and handle that produced an error.
type OpError = errs.OpError

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// Backend kinds accepted by New.
const (
	KindHeap  = "heap"
	KindPosix = "posix"
	KindSysV  = "sysv"
)

// DefaultDir is where the posix backend keeps its objects.
const DefaultDir = "/dev/shm"

// Mapping is one attachment of an OS memory object into this process.
type Mapping struct {
	Key  int
	Data []byte

	release func() error
}

// Addr returns the address of the first mapped byte.
func (m *Mapping) Addr() uintptr {
	if m == nil || len(m.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.Data[0]))
}

// Backend creates and maps memory objects by integer key.
type Backend interface {
	Name() string
	// Map attaches to the object for key. With create set a missing object is
	// created with size bytes; without it a missing object yields an error
	// matching fs.ErrNotExist.
	Map(key, size int, create bool) (*Mapping, error)
	// Unmap detaches one mapping; the object itself survives.
	Unmap(m *Mapping) error
	// Destroy removes the object for key.
	Destroy(key int) error
}

// Options tune backend construction.
type Options struct {
	Dir        string
	LockMemory bool
	Heap       *Heap
}

// New returns the backend of the given kind.
func New(kind string, opts Options) (Backend, error) {
	switch kind {
	case KindHeap:
		if opts.Heap != nil {
			return opts.Heap, nil
		}
		return NewHeap(), nil
	case KindPosix:
		return NewPosix(opts.Dir, opts.LockMemory), nil
	case KindSysV:
		return NewSysV(opts.LockMemory), nil
	default:
		return nil, fmt.Errorf("shm backend %q: %w", kind, errs.ErrUnsupported)
	}
}

// IsNotExist reports whether err means the object for a key is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// lock pins data in RAM. Refusals are turned into an actionable
// allocation failure instead of being retried.
func lock(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Mlock(data); err != nil {
		return errs.Allocation(err, "mlock refused: raise RLIMIT_MEMLOCK (ulimit -l) or grant CAP_IPC_LOCK")
	}
	return nil
}

func unlock(data []byte) {
	if len(data) > 0 {
		_ = unix.Munlock(data)
	}
}

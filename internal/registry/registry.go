package registry

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
	"github.com/GriffinCanCode/rtapi/internal/shm"
)

// ExitHook force-releases whatever a module still owns in one subsystem.
// Hooks run without the registry mutex held.
type ExitHook func(id types.ModuleID)

// Options configures attachment.
type Options struct {
	// RTCPU is recorded by the first attacher. Negative selects the
	// highest-numbered online CPU.
	RTCPU int
}

// Registry is one process's attachment to the shared registry block.
type Registry struct {
	backend shm.Backend
	mapping *shm.Mapping
	data    *Data
	bus     *message.Bus
	pid     int32

	hookMu sync.Mutex
	hooks  []ExitHook

	detached atomic.Bool
}

// Attach maps the registry block, creating and initializing it when this is
// the first attacher. A block written by a different layout revision is
// rejected with ErrRevisionMismatch and left untouched.
func Attach(backend shm.Backend, bus *message.Bus, opts Options) (*Registry, error) {
	m, err := backend.Map(Key, Size, false)
	if shm.IsNotExist(err) {
		m, err = backend.Map(Key, Size, true)
	}
	if errors.Is(err, errs.ErrSizeMismatch) {
		// A shorter block was laid out by another revision.
		bus.Errorf("RTAPI: ERROR: version mismatch %08x vs %08x", foreignRevision(backend), Revision)
		return nil, errs.Op("attach registry", 0, errs.ErrRevisionMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("attach registry: %w", err)
	}
	if len(m.Data) < Size {
		_ = backend.Unmap(m)
		return nil, errs.Op("attach registry", 0, errs.ErrSizeMismatch)
	}

	r := &Registry{
		backend: backend,
		mapping: m,
		data:    (*Data)(unsafe.Pointer(&m.Data[0])),
		bus:     bus,
		pid:     int32(os.Getpid()),
	}

	r.lock()
	h := &r.data.Header
	switch {
	case h.Magic == 0:
		h.Magic = magic
		h.Revision = Revision
		h.RTCPU = int32(opts.RTCPU)
		if opts.RTCPU < 0 {
			h.RTCPU = int32(HighestCPU())
		}
	case h.Magic != magic || h.Revision != Revision:
		got := h.Revision
		r.unlock()
		_ = backend.Unmap(m)
		bus.Errorf("RTAPI: ERROR: version mismatch %08x vs %08x", got, Revision)
		return nil, errs.Op("attach registry", 0, errs.ErrRevisionMismatch)
	}
	h.Attached++
	r.unlock()

	return r, nil
}

// foreignRevision reads the revision word of a block too short for this
// layout. It returns 0 when not even the header can be mapped.
func foreignRevision(backend shm.Backend) uint32 {
	m, err := backend.Map(Key, int(unsafe.Sizeof(Header{})), false)
	if err != nil {
		return 0
	}
	defer backend.Unmap(m)
	return (*Header)(unsafe.Pointer(&m.Data[0])).Revision
}

// Detach drops this process's attachment. The last detacher destroys the
// block.
func (r *Registry) Detach() error {
	if !r.detached.CompareAndSwap(false, true) {
		return nil
	}
	r.lock()
	r.data.Header.Attached--
	last := r.data.Header.Attached <= 0
	r.unlock()

	err := r.backend.Unmap(r.mapping)
	if last {
		err = errors.Join(err, r.backend.Destroy(Key))
	}
	return err
}

// lock acquires the test-and-set word in the shared header.
func (r *Registry) lock() {
	for !atomic.CompareAndSwapUint32(&r.data.Header.Mutex, 0, 1) {
		runtime.Gosched()
	}
}

func (r *Registry) unlock() {
	atomic.StoreUint32(&r.data.Header.Mutex, 0)
}

// With runs fn with the registry mutex held. fn must not block.
func (r *Registry) With(fn func(d *Data) error) error {
	if r.detached.Load() {
		return errs.Op("registry", 0, errs.ErrNotInitialized)
	}
	r.lock()
	defer r.unlock()
	return fn(r.data)
}

// PendingTimeout bounds how long WithSettled waits for a pending slot.
const PendingTimeout = time.Second

const pendingPoll = 50 * time.Microsecond

// WithSettled runs fn with the mutex held, repeating it with the mutex
// dropped in between for as long as fn reports a pending slot. It gives up
// with ErrBusy after PendingTimeout.
func (r *Registry) WithSettled(fn func(d *Data) (pending bool, err error)) error {
	deadline := time.Now().Add(PendingTimeout)
	for {
		var pending bool
		err := r.With(func(d *Data) error {
			var err error
			pending, err = fn(d)
			return err
		})
		if err != nil || !pending {
			return err
		}
		if time.Now().After(deadline) {
			return errs.ErrBusy
		}
		time.Sleep(pendingPoll)
	}
}

// Snapshot returns a copy of the whole block.
func (r *Registry) Snapshot() Data {
	var out Data
	_ = r.With(func(d *Data) error {
		out = *d
		return nil
	})
	return out
}

// PID returns the id this process records as owner.
func (r *Registry) PID() int32 { return r.pid }

// Bus returns the message bus used for registry diagnostics.
func (r *Registry) Bus() *message.Bus { return r.bus }

// Backend returns the backend the block is mapped through.
func (r *Registry) Backend() shm.Backend { return r.backend }

// RTCPU returns the CPU realtime tasks default to.
func (r *Registry) RTCPU() int {
	var cpu int
	_ = r.With(func(d *Data) error {
		cpu = int(d.Header.RTCPU)
		return nil
	})
	return cpu
}

// OnModuleExit installs a cleanup hook run by ModuleExit. Hooks run in
// installation order.
func (r *Registry) OnModuleExit(h ExitHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, h)
}

// ModuleInit registers a module and returns its id. Names longer than
// NameLen are truncated; an empty name is replaced by "ULMODxxx" or
// "RTMODxxx".
func (r *Registry) ModuleInit(name string, kind types.ModuleKind) (types.ModuleID, error) {
	if kind != types.KernelResident && kind != types.UserSpace {
		return 0, errs.Op("module init", 0, errs.ErrOutOfRange)
	}
	var id int
	err := r.With(func(d *Data) error {
		n, err := d.Allocate(Modules)
		if err != nil {
			return err
		}
		id = n
		rec := &d.Modules[n]
		rec.Kind = kind
		rec.PID = r.pid
		if name == "" {
			prefix := "ULMOD"
			if kind.Realtime() {
				prefix = "RTMOD"
			}
			name = fmt.Sprintf("%s%03d", prefix, n)
		}
		rec.Name = [NameLen + 1]byte{}
		copy(rec.Name[:NameLen], name)
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrOutOfSlots) {
			r.bus.Errorf("RTAPI: ERROR: reached module limit %d", MaxModules)
		}
		return 0, err
	}
	r.bus.Debugf("RTAPI: module '%s' loaded, ID: %02d", truncate(name), id)
	return types.ModuleID(id), nil
}

// ModuleExit runs the exit hooks for id, then frees its slot.
func (r *Registry) ModuleExit(id types.ModuleID) error {
	var name string
	err := r.With(func(d *Data) error {
		if err := d.ModuleLive(id); err != nil {
			return err
		}
		name = d.Modules[id].NameString()
		return nil
	})
	if err != nil {
		return errs.Op("module exit", int(id), errs.ErrInvalidHandle)
	}

	r.hookMu.Lock()
	hooks := append([]ExitHook(nil), r.hooks...)
	r.hookMu.Unlock()
	for _, h := range hooks {
		h(id)
	}

	if err := r.With(func(d *Data) error { return d.Release(Modules, int(id)) }); err != nil {
		return errs.Op("module exit", int(id), err)
	}
	r.bus.Debugf("RTAPI: module %02d exited, name: '%s'", id, name)
	return nil
}

// ModuleKind returns the kind of a live module.
func (r *Registry) ModuleKind(id types.ModuleID) (types.ModuleKind, error) {
	var kind types.ModuleKind
	err := r.With(func(d *Data) error {
		if err := d.ModuleLive(id); err != nil {
			return err
		}
		kind = d.Modules[id].Kind
		return nil
	})
	return kind, err
}

func truncate(name string) string {
	if len(name) > NameLen {
		return name[:NameLen]
	}
	return name
}

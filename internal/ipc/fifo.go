package ipc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
	"github.com/GriffinCanCode/rtapi/internal/shm"
)

// FIFO end modes.
const (
	ModeRead  = 'R'
	ModeWrite = 'W'
)

// MaxFifoKey bounds FIFO keys so their objects never collide with segment
// keys.
const MaxFifoKey = 0x00FFFFFF

const fifoKeySpace = 0x46000000

func objectKey(key int) int { return fifoKeySpace | key }

type localFifo struct {
	mapping *shm.Mapping
	ring    *ring
	ends    int
}

// Fifos manages byte FIFOs with at most one reader and one writer each.
type Fifos struct {
	reg     *registry.Registry
	backend shm.Backend
	bus     *message.Bus

	mu    sync.Mutex
	local [registry.MaxFifos + 1]*localFifo
}

// NewFifos creates the FIFO manager and registers its module exit hook.
func NewFifos(reg *registry.Registry, backend shm.Backend) *Fifos {
	f := &Fifos{reg: reg, backend: backend, bus: reg.Bus()}
	reg.OnModuleExit(f.releaseModule)
	return f
}

// New opens one end of the FIFO for key. The first opener creates it with
// size bytes of capacity; later openers must ask for no more than that and
// claim the end that is still free.
func (f *Fifos) New(key int, module types.ModuleID, size int, mode byte) (types.FifoID, error) {
	if key <= 0 || key > MaxFifoKey || size <= 0 {
		return 0, errs.Op("fifo_new", 0, errs.ErrOutOfRange)
	}
	if mode != ModeRead && mode != ModeWrite {
		return 0, errs.Op("fifo_new", 0, errs.ErrOutOfRange)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		id      int
		create  bool
		mapSize int
	)
	err := f.reg.WithSettled(func(d *registry.Data) (bool, error) {
		if err := d.ModuleLive(module); err != nil {
			return false, err
		}
		for n := 1; n <= registry.MaxFifos; n++ {
			rec := &d.Fifos[n]
			if rec.State == 0 || int(rec.Key) != key {
				continue
			}
			if rec.State&registry.FifoPending != 0 {
				return true, nil
			}
			id = n
			if int64(size) > rec.Size {
				return false, errs.ErrSizeMismatch
			}
			mapSize = int(rec.Size)
			return false, claim(rec, module, mode)
		}
		n, err := d.Allocate(registry.Fifos)
		if err != nil {
			return false, err
		}
		d.Fifos[n] = registry.FifoRecord{Key: int32(key), Size: int64(size), State: registry.FifoPending}
		id, create, mapSize = n, true, size
		return false, claim(&d.Fifos[n], module, mode)
	})
	if err != nil {
		return 0, errs.Op("fifo_new", id, err)
	}

	if err := f.open(id, key, mapSize, create); err != nil {
		f.abandon(id, module)
		if create {
			id = 0
		}
		return 0, errs.Op("fifo_new", id, err)
	}
	if create {
		_ = f.reg.With(func(d *registry.Data) error {
			d.Fifos[id].State &^= registry.FifoPending
			return nil
		})
	}
	f.bus.Debugf("RTAPI: fifo %02d opened by module %02d for %c, key: %d", id, module, mode, key)
	return types.FifoID(id), nil
}

func claim(rec *registry.FifoRecord, module types.ModuleID, mode byte) error {
	if mode == ModeRead {
		if rec.State&registry.FifoHasReader != 0 {
			return errs.ErrBusy
		}
		rec.State |= registry.FifoHasReader
		rec.Reader = int32(module)
		return nil
	}
	if rec.State&registry.FifoHasWriter != 0 {
		return errs.ErrBusy
	}
	rec.State |= registry.FifoHasWriter
	rec.Writer = int32(module)
	return nil
}

// open maps the FIFO object for slot n in this process; later ends opened
// here share the mapping.
func (f *Fifos) open(n, key, size int, create bool) error {
	if l := f.local[n]; l != nil {
		l.ends++
		return nil
	}
	m, err := f.backend.Map(objectKey(key), ringBytes(size), create)
	if err != nil {
		return errs.Allocation(fmt.Errorf("map fifo: %w", err), "")
	}
	if create {
		clear(m.Data)
	}
	f.local[n] = &localFifo{mapping: m, ring: attachRing(m.Data, size, create), ends: 1}
	return nil
}

// Delete releases the ends module holds. The FIFO is destroyed when neither
// end is held.
func (f *Fifos) Delete(id types.FifoID, module types.ModuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		released int
		last     bool
		key      int
	)
	err := f.reg.With(func(d *registry.Data) error {
		if err := d.Lookup(registry.Fifos, int(id)); err != nil {
			return err
		}
		rec := &d.Fifos[id]
		key = int(rec.Key)
		released, last = leaveFifo(rec, module)
		if released == 0 {
			return errs.ErrInvalidHandle
		}
		return nil
	})
	if err != nil {
		return errs.Op("fifo_delete", int(id), err)
	}

	var cause error
	if l := f.local[id]; l != nil {
		l.ends -= released
		if l.ends <= 0 {
			cause = f.backend.Unmap(l.mapping)
			f.local[id] = nil
		}
	}
	if last {
		cause = errors.Join(cause, f.teardown(int(id), key))
	}
	if cause != nil {
		f.bus.Warnf("RTAPI: WARNING: fifo %02d release: %v", id, cause)
	}
	return nil
}

// leaveFifo drops the ends module holds on rec and reports how many it
// held. When neither end is left the record is tagged pending and the
// caller must tear it down.
func leaveFifo(rec *registry.FifoRecord, module types.ModuleID) (int, bool) {
	released := 0
	if rec.State&registry.FifoHasReader != 0 && rec.Reader == int32(module) {
		rec.State &^= registry.FifoHasReader
		rec.Reader = 0
		released++
	}
	if rec.State&registry.FifoHasWriter != 0 && rec.Writer == int32(module) {
		rec.State &^= registry.FifoHasWriter
		rec.Writer = 0
		released++
	}
	if released == 0 || rec.State&^registry.FifoPending != 0 {
		return released, false
	}
	rec.State = registry.FifoPending
	return released, true
}

// abandon undoes the reservation New made when mapping failed.
func (f *Fifos) abandon(n int, module types.ModuleID) {
	var (
		last bool
		key  int
	)
	_ = f.reg.With(func(d *registry.Data) error {
		rec := &d.Fifos[n]
		key = int(rec.Key)
		_, last = leaveFifo(rec, module)
		return nil
	})
	if last {
		_ = f.teardown(n, key)
	}
}

// teardown destroys the object of a pending FIFO and frees its slot.
func (f *Fifos) teardown(n, key int) error {
	cause := f.backend.Destroy(objectKey(key))
	return errors.Join(cause, f.reg.With(func(d *registry.Data) error {
		return d.Release(registry.Fifos, n)
	}))
}

func (f *Fifos) lookup(id types.FifoID) (*ring, error) {
	if id < 1 || id > registry.MaxFifos {
		return nil, errs.ErrInvalidHandle
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if l := f.local[id]; l != nil {
		return l.ring, nil
	}
	return nil, errs.ErrInvalidHandle
}

// Read moves up to len(buf) bytes out of the FIFO without blocking.
func (f *Fifos) Read(id types.FifoID, buf []byte) (int, error) {
	r, err := f.lookup(id)
	if err != nil {
		return 0, errs.Op("fifo_read", int(id), err)
	}
	return r.Read(buf), nil
}

// Write moves as much of buf as fits into the FIFO without blocking.
func (f *Fifos) Write(id types.FifoID, buf []byte) (int, error) {
	r, err := f.lookup(id)
	if err != nil {
		return 0, errs.Op("fifo_write", int(id), err)
	}
	return r.Write(buf), nil
}

// Buffered returns the number of unread bytes.
func (f *Fifos) Buffered(id types.FifoID) (int, error) {
	r, err := f.lookup(id)
	if err != nil {
		return 0, errs.Op("fifo_len", int(id), err)
	}
	return r.Len(), nil
}

func (f *Fifos) releaseModule(module types.ModuleID) {
	var held []types.FifoID
	_ = f.reg.With(func(d *registry.Data) error {
		for n := 1; n <= registry.MaxFifos; n++ {
			rec := &d.Fifos[n]
			if rec.State == 0 {
				continue
			}
			if (rec.State&registry.FifoHasReader != 0 && rec.Reader == int32(module)) ||
				(rec.State&registry.FifoHasWriter != 0 && rec.Writer == int32(module)) {
				held = append(held, types.FifoID(n))
			}
		}
		return nil
	})
	for _, id := range held {
		f.bus.Warnf("RTAPI: WARNING: module %02d failed to delete fifo %02d", module, id)
		if err := f.Delete(id, module); err != nil {
			f.bus.Errorf("RTAPI: ERROR: forced fifo %02d release: %v", id, err)
		}
	}
}

// Package shmem manages keyed shared memory segments on top of the registry.
//
// A segment is recorded once in the shared registry (key, size, holder
// bitmap, realtime and non-realtime user counts) and mapped at most once per
// side in every process that uses it. Kernel-resident modules use the
// realtime side, user-space modules the non-realtime side. The OS object is
// created and zero-filled by the first holder and destroyed when both counts
// fall to zero; every other path leaves the bytes alone.
package shmem

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

type side struct {
	mapping *shm.Mapping
	refs    int
}

type local struct {
	rt side
	ul side
}

func (l *local) side(realtime bool) *side {
	if realtime {
		return &l.rt
	}
	return &l.ul
}

// Manager creates, attaches and releases segments for one process.
type Manager struct {
	reg     *registry.Registry
	backend shm.Backend
	bus     *message.Bus

	// mu guards local and is always taken before the registry mutex.
	mu    sync.Mutex
	local [registry.MaxShmems + 1]local
}

// Info is a read-only view of one segment record.
type Info struct {
	ID      types.ShmemID
	Key     int
	Size    int
	RTUsers int
	ULUsers int
	Holders []types.ModuleID
}

// NewManager creates a manager and registers its module exit hook.
func NewManager(reg *registry.Registry, backend shm.Backend) *Manager {
	m := &Manager{reg: reg, backend: backend, bus: reg.Bus()}
	reg.OnModuleExit(m.releaseModule)
	return m
}

// New creates the segment for key or attaches to the existing one. The
// slot is reserved under the registry mutex; the OS object is mapped after
// the mutex is dropped and the record is published once the mapping exists.
func (m *Manager) New(key int, module types.ModuleID, size int) (types.ShmemID, error) {
	if key == 0 || key == registry.Key || key != int(int32(key)) {
		return 0, errs.Op("shmem new", 0, errs.ErrOutOfRange)
	}
	if size <= 0 {
		return 0, errs.Op("shmem new", 0, errs.ErrOutOfRange)
	}
	kind, err := m.reg.ModuleKind(module)
	if err != nil {
		return 0, errs.Op("shmem new", int(module), errs.ErrInvalidHandle)
	}
	rt := kind.Realtime()

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		id      int
		create  bool
		mapSize int
	)
	err = m.reg.WithSettled(func(d *registry.Data) (bool, error) {
		if n := findKey(d, key); n != 0 {
			rec := &d.Shmems[n]
			if rec.Pending != 0 {
				return true, nil
			}
			id = n
			if rec.Size < int64(size) {
				return false, errs.ErrSizeMismatch
			}
			if rec.Holders.Test(int(module)) {
				return false, errs.ErrAlreadyMapped
			}
			join(rec, module, rt)
			mapSize = int(rec.Size)
			return false, nil
		}
		n, err := d.Allocate(registry.Shmems)
		if err != nil {
			return false, err
		}
		d.Shmems[n] = registry.ShmemRecord{Key: int32(key), Size: int64(size), Pending: 1}
		join(&d.Shmems[n], module, rt)
		id, create, mapSize = n, true, size
		return false, nil
	})
	if err != nil {
		return 0, errs.Op("shmem new", id, err)
	}

	if err := m.mapSide(id, key, mapSize, rt, create); err != nil {
		m.abandon(id, module, rt)
		m.bus.Errorf("RTAPI: ERROR: could not map shmem %08x: %v", key, err)
		if create {
			id = 0
		}
		return 0, errs.Op("shmem new", id, err)
	}
	if create {
		_ = m.reg.With(func(d *registry.Data) error {
			d.Shmems[id].Pending = 0
			return nil
		})
	}
	m.bus.Debugf("RTAPI: shmem %02d opened by module %02d, key: %#08x, size: %d", id, module, key, size)
	return types.ShmemID(id), nil
}

func findKey(d *registry.Data, key int) int {
	for n := 1; n <= registry.MaxShmems; n++ {
		if d.Shmems[n].Key != 0 && int(d.Shmems[n].Key) == key {
			return n
		}
	}
	return 0
}

func join(rec *registry.ShmemRecord, module types.ModuleID, rt bool) {
	rec.Holders.Set(int(module))
	if rt {
		rec.RTUsers++
	} else {
		rec.ULUsers++
	}
}

// leave drops module from rec. When no holder is left the record is tagged
// pending and the caller must tear it down.
func leave(rec *registry.ShmemRecord, module types.ModuleID, rt bool) bool {
	rec.Holders.Clear(int(module))
	if rt {
		rec.RTUsers--
	} else {
		rec.ULUsers--
	}
	if rec.RTUsers+rec.ULUsers > 0 {
		return false
	}
	rec.Pending = 1
	return true
}

// mapSide maps slot n into this process on one side, or takes another
// reference on the existing mapping. A created object is zero-filled.
func (m *Manager) mapSide(n, key, size int, rt, create bool) error {
	if create {
		m.local[n] = local{}
	}
	s := m.local[n].side(rt)
	if s.refs > 0 {
		s.refs++
		return nil
	}
	mp, err := m.backend.Map(key, size, create)
	if err != nil {
		return allocationError(err)
	}
	if create {
		clear(mp.Data)
	}
	s.mapping, s.refs = mp, 1
	return nil
}

// abandon undoes the reservation New made when mapping failed.
func (m *Manager) abandon(n int, module types.ModuleID, rt bool) {
	var (
		last bool
		key  int
	)
	_ = m.reg.With(func(d *registry.Data) error {
		rec := &d.Shmems[n]
		key = int(rec.Key)
		last = leave(rec, module, rt)
		return nil
	})
	if last {
		// A failed create may have left nothing to destroy.
		_ = m.teardown(n, key)
	}
}

// teardown destroys the object of a pending record and frees its slot.
func (m *Manager) teardown(n, key int) error {
	cause := m.backend.Destroy(key)
	m.local[n] = local{}
	return errors.Join(cause, m.reg.With(func(d *registry.Data) error {
		return d.Release(registry.Shmems, n)
	}))
}

// GetPtr returns the mapped bytes of a segment, preferring the realtime
// mapping when this process holds both.
func (m *Manager) GetPtr(id types.ShmemID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.reg.With(func(d *registry.Data) error {
		return d.Lookup(registry.Shmems, int(id))
	})
	if err != nil {
		return nil, errs.Op("shmem getptr", int(id), errs.ErrInvalidHandle)
	}
	l := &m.local[id]
	switch {
	case l.rt.mapping != nil:
		return l.rt.mapping.Data, nil
	case l.ul.mapping != nil:
		return l.ul.mapping.Data, nil
	}
	return nil, errs.Op("shmem getptr", int(id), errs.ErrInvalidHandle)
}

// Delete drops module's reference. The side's mapping goes away when its
// last local holder leaves; the OS object and the slot go away when no
// holder is left on either side.
func (m *Manager) Delete(id types.ShmemID, module types.ModuleID) error {
	kind, err := m.reg.ModuleKind(module)
	if err != nil {
		return errs.Op("shmem delete", int(id), errs.ErrInvalidHandle)
	}
	rt := kind.Realtime()

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		last bool
		key  int
	)
	err = m.reg.With(func(d *registry.Data) error {
		if err := d.Lookup(registry.Shmems, int(id)); err != nil {
			return errs.ErrInvalidHandle
		}
		rec := &d.Shmems[id]
		if !rec.Holders.Test(int(module)) {
			return errs.ErrInvalidHandle
		}
		key = int(rec.Key)
		last = leave(rec, module, rt)
		return nil
	})
	if err != nil {
		return errs.Op("shmem delete", int(id), err)
	}

	var cause error
	s := m.local[id].side(rt)
	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 && s.mapping != nil {
		cause = m.backend.Unmap(s.mapping)
		s.mapping = nil
	}
	if last {
		cause = errors.Join(cause, m.teardown(int(id), key))
	}
	if cause != nil {
		m.bus.Warnf("RTAPI: WARNING: shmem %02d release: %v", id, cause)
	}
	if last {
		m.bus.Debugf("RTAPI: shmem %02d freed by module %02d", id, module)
	} else {
		m.bus.Debugf("RTAPI: shmem %02d closed by module %02d", id, module)
	}
	return nil
}

// Info returns a copy of the segment record.
func (m *Manager) Info(id types.ShmemID) (Info, error) {
	var out Info
	err := m.reg.With(func(d *registry.Data) error {
		if err := d.Lookup(registry.Shmems, int(id)); err != nil {
			return err
		}
		rec := &d.Shmems[id]
		out = Info{
			ID:      id,
			Key:     int(rec.Key),
			Size:    int(rec.Size),
			RTUsers: int(rec.RTUsers),
			ULUsers: int(rec.ULUsers),
		}
		for _, h := range rec.Holders.Members() {
			out.Holders = append(out.Holders, types.ModuleID(h))
		}
		return nil
	})
	return out, err
}

// releaseModule force-deletes every segment a module still holds.
func (m *Manager) releaseModule(module types.ModuleID) {
	var held []types.ShmemID
	_ = m.reg.With(func(d *registry.Data) error {
		for n := 1; n <= registry.MaxShmems; n++ {
			if d.Live(registry.Shmems, n) && d.Shmems[n].Holders.Test(int(module)) {
				held = append(held, types.ShmemID(n))
			}
		}
		return nil
	})
	for _, id := range held {
		m.bus.Warnf("RTAPI: WARNING: module '%02d' failed to delete shmem %02d", module, id)
		if err := m.Delete(id, module); err != nil {
			m.bus.Errorf("RTAPI: ERROR: forced shmem %02d release: %v", id, err)
		}
	}
}

func allocationError(err error) error {
	switch {
	case errors.Is(err, errs.ErrAllocationFailed), errors.Is(err, errs.ErrSizeMismatch):
		return err
	default:
		return errs.Allocation(fmt.Errorf("map segment: %w", err), "")
	}
}

package ipc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// SemMax is the largest count a semaphore can hold.
const SemMax = 1 << 20

type localSem struct {
	w     *semaphore.Weighted
	avail atomic.Int64
}

func newLocalSem() *localSem {
	s := &localSem{w: semaphore.NewWeighted(SemMax)}
	// Start with every unit held so the count begins at zero.
	_ = s.w.Acquire(context.Background(), SemMax)
	return s
}

// Sems manages counting semaphores.
type Sems struct {
	reg *registry.Registry
	bus *message.Bus

	mu    sync.Mutex
	local [registry.MaxSems + 1]*localSem
}

// NewSems creates the semaphore manager and registers its module exit hook.
func NewSems(reg *registry.Registry) *Sems {
	s := &Sems{reg: reg, bus: reg.Bus()}
	reg.OnModuleExit(s.releaseModule)
	return s
}

// New creates the semaphore for key or attaches module to it.
func (s *Sems) New(key int, module types.ModuleID) (types.SemID, error) {
	if key == 0 || key != int(int32(key)) {
		return 0, errs.Op("sem_new", 0, errs.ErrOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int
	err := s.reg.With(func(d *registry.Data) error {
		if err := d.ModuleLive(module); err != nil {
			return err
		}
		for n := 1; n <= registry.MaxSems; n++ {
			rec := &d.Sems[n]
			if rec.Users == 0 || int(rec.Key) != key {
				continue
			}
			if rec.Holders.Test(int(module)) {
				return errs.ErrAlreadyMapped
			}
			id = n
			rec.Holders.Set(int(module))
			rec.Users++
			return nil
		}
		n, err := d.Allocate(registry.Sems)
		if err != nil {
			return err
		}
		id = n
		d.Sems[n] = registry.SemRecord{Key: int32(key), Users: 1}
		d.Sems[n].Holders.Set(int(module))
		return nil
	})
	if err != nil {
		return 0, errs.Op("sem_new", id, err)
	}
	if s.local[id] == nil {
		s.local[id] = newLocalSem()
	}
	s.bus.Debugf("RTAPI: sem %02d opened by module %02d, key: %d", id, module, key)
	return types.SemID(id), nil
}

// Delete drops module's reference; the last one frees the slot.
func (s *Sems) Delete(id types.SemID, module types.ModuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var freed bool
	err := s.reg.With(func(d *registry.Data) error {
		if err := d.Lookup(registry.Sems, int(id)); err != nil {
			return err
		}
		rec := &d.Sems[id]
		if !rec.Holders.Test(int(module)) {
			return errs.ErrInvalidHandle
		}
		rec.Holders.Clear(int(module))
		rec.Users--
		if rec.Users > 0 {
			return nil
		}
		freed = true
		return d.Release(registry.Sems, int(id))
	})
	if err != nil {
		return errs.Op("sem_delete", int(id), err)
	}
	if freed {
		s.local[id] = nil
		s.bus.Debugf("RTAPI: sem %02d freed by module %02d", id, module)
	}
	return nil
}

func (s *Sems) get(id types.SemID) (*localSem, error) {
	if id < 1 || id > registry.MaxSems {
		return nil, errs.ErrInvalidHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.local[id]; l != nil {
		return l, nil
	}
	return nil, errs.ErrInvalidHandle
}

// Give increments the count, waking one taker.
func (s *Sems) Give(id types.SemID) error {
	l, err := s.get(id)
	if err != nil {
		return errs.Op("sem_give", int(id), err)
	}
	for {
		n := l.avail.Load()
		if n >= SemMax {
			return errs.Op("sem_give", int(id), errs.ErrOutOfRange)
		}
		if l.avail.CompareAndSwap(n, n+1) {
			break
		}
	}
	l.w.Release(1)
	return nil
}

// Take decrements the count, blocking until it is positive or ctx ends.
func (s *Sems) Take(ctx context.Context, id types.SemID) error {
	l, err := s.get(id)
	if err != nil {
		return errs.Op("sem_take", int(id), err)
	}
	if err := l.w.Acquire(ctx, 1); err != nil {
		return errs.Op("sem_take", int(id), err)
	}
	l.avail.Add(-1)
	return nil
}

// Try decrements the count if it is positive, else fails with ErrBusy.
func (s *Sems) Try(id types.SemID) error {
	l, err := s.get(id)
	if err != nil {
		return errs.Op("sem_try", int(id), err)
	}
	if !l.w.TryAcquire(1) {
		return errs.Op("sem_try", int(id), errs.ErrBusy)
	}
	l.avail.Add(-1)
	return nil
}

func (s *Sems) releaseModule(module types.ModuleID) {
	var held []types.SemID
	_ = s.reg.With(func(d *registry.Data) error {
		for n := 1; n <= registry.MaxSems; n++ {
			if d.Live(registry.Sems, n) && d.Sems[n].Holders.Test(int(module)) {
				held = append(held, types.SemID(n))
			}
		}
		return nil
	})
	for _, id := range held {
		s.bus.Warnf("RTAPI: WARNING: module %02d failed to delete sem %02d", module, id)
		if err := s.Delete(id, module); err != nil && !errors.Is(err, errs.ErrInvalidHandle) {
			s.bus.Errorf("RTAPI: ERROR: forced sem %02d release: %v", id, err)
		}
	}
}

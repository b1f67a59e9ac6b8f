package irq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// MaxIRQ is the highest interrupt number accepted.
const MaxIRQ = 255

// Handler runs on the line's goroutine for every event while the line is
// enabled.
type Handler func(irq int, count uint32)

type active struct {
	slot    int
	owner   types.ModuleID
	line    Line
	handler Handler
	enabled atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager claims interrupt lines for modules.
type Manager struct {
	reg *registry.Registry
	src Source
	bus *message.Bus

	mu    sync.Mutex
	lines map[int]*active
}

// NewManager creates an interrupt manager over src and registers its module
// exit hook.
func NewManager(reg *registry.Registry, src Source) *Manager {
	m := &Manager{reg: reg, src: src, bus: reg.Bus(), lines: make(map[int]*active)}
	reg.OnModuleExit(m.releaseModule)
	return m
}

// Source returns the event source lines are opened from.
func (m *Manager) Source() Source { return m.src }

// New claims irq for owner. The line starts disabled.
func (m *Manager) New(irq int, owner types.ModuleID, handler Handler) error {
	if irq < 1 || irq > MaxIRQ || handler == nil {
		return errs.Op("irq_new", irq, errs.ErrOutOfRange)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var slot int
	err := m.reg.With(func(d *registry.Data) error {
		if err := d.ModuleLive(owner); err != nil {
			return err
		}
		for n := 1; n <= registry.MaxIRQs; n++ {
			if int(d.IRQs[n].IRQ) == irq {
				return errs.ErrAlreadySet
			}
		}
		n, err := d.Allocate(registry.IRQs)
		if err != nil {
			return err
		}
		slot = n
		d.IRQs[n] = registry.IRQRecord{IRQ: int32(irq), Owner: int32(owner)}
		return nil
	})
	if err != nil {
		return errs.Op("irq_new", irq, err)
	}

	line, err := m.src.Open(irq)
	if err != nil {
		_ = m.reg.With(func(d *registry.Data) error { return d.Release(registry.IRQs, slot) })
		return errs.Op("irq_new", irq, errs.Allocation(err, ""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &active{slot: slot, owner: owner, line: line, handler: handler, cancel: cancel, done: make(chan struct{})}
	m.lines[irq] = a
	go m.serve(ctx, irq, a)

	m.bus.Debugf("RTAPI: IRQ %d requested by module %02d via %s", irq, owner, m.src.Name())
	return nil
}

func (m *Manager) serve(ctx context.Context, irq int, a *active) {
	defer close(a.done)
	for {
		count, err := a.line.Wait(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrLineClosed) {
				m.bus.Errorf("RTAPI: ERROR: IRQ %d wait: %v", irq, err)
			}
			return
		}
		if a.enabled.Load() {
			a.handler(irq, count)
		}
	}
}

// Delete releases irq and stops its goroutine.
func (m *Manager) Delete(irq int) error {
	m.mu.Lock()
	a, ok := m.lines[irq]
	if ok {
		delete(m.lines, irq)
	}
	m.mu.Unlock()
	if !ok {
		return errs.Op("irq_delete", irq, errs.ErrInvalidHandle)
	}

	a.enabled.Store(false)
	a.cancel()
	closeErr := a.line.Close()
	<-a.done

	err := m.reg.With(func(d *registry.Data) error { return d.Release(registry.IRQs, a.slot) })
	if err = errors.Join(err, closeErr); err != nil {
		return errs.Op("irq_delete", irq, err)
	}
	m.bus.Debugf("RTAPI: IRQ %d released", irq)
	return nil
}

func (m *Manager) get(irq int) (*active, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.lines[irq]; ok {
		return a, nil
	}
	return nil, errs.ErrInvalidHandle
}

// Enable starts delivering events of irq to its handler.
func (m *Manager) Enable(irq int) error {
	a, err := m.get(irq)
	if err != nil {
		return errs.Op("irq_enable", irq, err)
	}
	a.enabled.Store(true)
	if err := a.line.Enable(); err != nil {
		return errs.Op("irq_enable", irq, err)
	}
	return nil
}

// Disable drops events of irq until it is enabled again.
func (m *Manager) Disable(irq int) error {
	a, err := m.get(irq)
	if err != nil {
		return errs.Op("irq_disable", irq, err)
	}
	a.enabled.Store(false)
	if err := a.line.Disable(); err != nil {
		return errs.Op("irq_disable", irq, err)
	}
	return nil
}

// Close releases every line this process holds.
func (m *Manager) Close() {
	m.mu.Lock()
	irqs := make([]int, 0, len(m.lines))
	for irq := range m.lines {
		irqs = append(irqs, irq)
	}
	m.mu.Unlock()
	for _, irq := range irqs {
		_ = m.Delete(irq)
	}
}

func (m *Manager) releaseModule(module types.ModuleID) {
	m.mu.Lock()
	var owned []int
	for irq, a := range m.lines {
		if a.owner == module {
			owned = append(owned, irq)
		}
	}
	m.mu.Unlock()
	for _, irq := range owned {
		m.bus.Warnf("RTAPI: WARNING: module %02d failed to release IRQ %d", module, irq)
		if err := m.Delete(irq); err != nil {
			m.bus.Errorf("RTAPI: ERROR: forced IRQ %d release: %v", irq, err)
		}
	}
}

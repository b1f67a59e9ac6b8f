package rtapi

import (
	"context"

	"github.com/GriffinCanCode/rtapi/internal/irq"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// ShmemNew creates the segment for key or attaches module to it.
func (rt *Runtime) ShmemNew(key int, module ModuleID, size int) (ShmemID, error) {
	return rt.shmem.New(key, module, size)
}

// ShmemDelete drops module's reference to a segment.
func (rt *Runtime) ShmemDelete(id ShmemID, module ModuleID) error {
	return rt.shmem.Delete(id, module)
}

// ShmemGetPtr returns the mapped bytes of a segment.
func (rt *Runtime) ShmemGetPtr(id ShmemID) ([]byte, error) {
	return rt.shmem.GetPtr(id)
}

// SemNew creates or attaches to the semaphore for key.
func (rt *Runtime) SemNew(key int, module ModuleID) (SemID, error) {
	return rt.sems.New(key, module)
}

// SemDelete drops module's reference to a semaphore.
func (rt *Runtime) SemDelete(id SemID, module ModuleID) error {
	return rt.sems.Delete(id, module)
}

// SemGive releases one unit.
func (rt *Runtime) SemGive(id SemID) error { return rt.sems.Give(id) }

// SemTake blocks until a unit is available or ctx is done.
func (rt *Runtime) SemTake(ctx context.Context, id SemID) error { return rt.sems.Take(ctx, id) }

// SemTry takes a unit without blocking, or fails with ErrBusy.
func (rt *Runtime) SemTry(id SemID) error { return rt.sems.Try(id) }

// FifoNew creates or opens one end of the FIFO for key. mode is FifoRead or
// FifoWrite.
func (rt *Runtime) FifoNew(key int, module ModuleID, size int, mode byte) (FifoID, error) {
	return rt.fifos.New(key, module, size, mode)
}

// FifoDelete releases module's ends of a FIFO.
func (rt *Runtime) FifoDelete(id FifoID, module ModuleID) error {
	return rt.fifos.Delete(id, module)
}

// FifoRead moves up to len(buf) bytes out of a FIFO without blocking.
func (rt *Runtime) FifoRead(id FifoID, buf []byte) (int, error) { return rt.fifos.Read(id, buf) }

// FifoWrite moves up to len(buf) bytes into a FIFO without blocking.
func (rt *Runtime) FifoWrite(id FifoID, buf []byte) (int, error) { return rt.fifos.Write(id, buf) }

// IRQNew claims an interrupt line for owner. The line starts disabled.
func (rt *Runtime) IRQNew(n int, owner ModuleID, handler IRQHandler) error {
	return rt.irqs.New(n, owner, handler)
}

// IRQDelete releases an interrupt line.
func (rt *Runtime) IRQDelete(n int) error { return rt.irqs.Delete(n) }

// IRQEnable starts delivering events of a line.
func (rt *Runtime) IRQEnable(n int) error { return rt.irqs.Enable(n) }

// IRQDisable drops events of a line until it is enabled again.
func (rt *Runtime) IRQDisable(n int) error { return rt.irqs.Disable(n) }

// RaiseIRQ fires a software interrupt. It needs the soft interrupt source.
func (rt *Runtime) RaiseIRQ(n int) error {
	soft, ok := rt.irqs.Source().(*irq.Soft)
	if !ok {
		return errs.Op("irq_raise", n, errs.ErrUnsupported)
	}
	return soft.Raise(n)
}

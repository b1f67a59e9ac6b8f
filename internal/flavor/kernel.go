package flavor

import (
	"errors"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shm"
)

// KernelName selects the kernel-resident flavor.
const KernelName = "kernel"

type kernel struct {
	rt privileged
}

func newKernel(bus *message.Bus) *kernel {
	return &kernel{rt: privileged{bus: bus}}
}

func (k *kernel) Name() string { return KernelName }
func (k *kernel) Tag() exception.Tag { return exception.TagKernel }
func (k *kernel) PrioHighest() int { return 0 }
func (k *kernel) PrioLowest() int { return 0xFFF }
func (k *kernel) SupportsResume() bool { return true }
func (k *kernel) DefaultShm() string { return shm.KindHeap }
func (k *kernel) Sample(*exception.ThreadStatus) {}

// Enter maps the 0..0xFFF range onto SCHED_FIFO 99..1.
func (k *kernel) Enter(t Thread) error {
	prio := fifoMax - t.Prio*(fifoMax-fifoMin)/k.PrioLowest()
	return errors.Join(pin(t.CPU), k.rt.apply(prio))
}

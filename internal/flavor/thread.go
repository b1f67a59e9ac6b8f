package flavor

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/rtapi/internal/message"
)

// fifoMin and fifoMax bound SCHED_FIFO priorities on Linux.
const (
	fifoMin = 1
	fifoMax = 99
)

// pin restricts the calling thread to cpu.
func pin(cpu int) error {
	if cpu < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin thread to cpu %d: %w", cpu, err)
	}
	return nil
}

// fifo switches the calling thread to SCHED_FIFO at prio.
func fifo(prio int) error {
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}

// privileged tracks whether realtime scheduling was refused, and logs the
// refusal once per backend.
type privileged struct {
	once sync.Once
	bus  *message.Bus
}

func (p *privileged) apply(prio int) error {
	err := fifo(prio)
	if errors.Is(err, unix.EPERM) {
		p.once.Do(func() {
			p.bus.Warnf("RTAPI: WARNING: realtime scheduling refused (EPERM); tasks run at normal priority. " +
				"Raise RLIMIT_RTPRIO or grant CAP_SYS_NICE.")
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("set SCHED_FIFO %d: %w", prio, err)
	}
	return nil
}

// rusage samples the calling thread's resource usage.
func rusage() (unix.Rusage, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &ru); err != nil {
		return ru, false
	}
	return ru, true
}

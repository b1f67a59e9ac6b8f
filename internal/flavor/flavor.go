// Package flavor defines the scheduling backends the task scheduler runs on.
//
// A flavor fixes the priority numbering, whether a paused task can be
// resumed into free-run mode, how a task's OS thread is configured, and which
// statistics are sampled per cycle. One flavor is chosen when the runtime is
// opened; the scheduler never branches on which one it got.
//
// Flavors:
//   - kernel: kernel-resident modules. 0 is the highest priority, 0xFFF the
//     lowest. Resume is supported.
//   - uspace: user-space realtime threads under SCHED_FIFO. Higher numbers
//     are better. Resume is not supported.
//   - posix: plain preemptible threads. Priorities are bookkeeping only.
//     Resume is not supported.
//
// Priority values must only be compared through the helpers in this package.
package flavor

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// Thread is what a backend needs to configure a task's OS thread.
type Thread struct {
	Prio   int
	CPU    int
	UsesFP bool
}

// Backend is one scheduling flavor.
type Backend interface {
	Name() string
	Tag() exception.Tag
	PrioHighest() int
	PrioLowest() int
	SupportsResume() bool
	// DefaultShm names the shm backend kind used when none is configured.
	DefaultShm() string
	// Enter configures the calling OS thread. The goroutine must already be
	// locked to it.
	Enter(t Thread) error
	// Sample copies OS counters of the calling thread into st.
	Sample(st *exception.ThreadStatus)
}

type factory func(bus *message.Bus) Backend

var factories = map[string]factory{
	KernelName: func(bus *message.Bus) Backend { return newKernel(bus) },
	UspaceName: func(bus *message.Bus) Backend { return newUspace(bus) },
	PosixName:  func(bus *message.Bus) Backend { return newPosix(bus) },
}

// New returns the backend called name.
func New(name string, bus *message.Bus) (Backend, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("flavor %q: %w", name, errs.ErrUnsupported)
	}
	return f(bus), nil
}

// Names lists the known flavors.
func Names() []string {
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// lowerIsBetter reports whether smaller numbers mean higher priority.
func lowerIsBetter(b Backend) bool { return b.PrioHighest() < b.PrioLowest() }

// InRange reports whether prio lies within the backend's range.
func InRange(b Backend, prio int) bool {
	lo, hi := b.PrioHighest(), b.PrioLowest()
	if lo > hi {
		lo, hi = hi, lo
	}
	return prio >= lo && prio <= hi
}

// NextHigher returns the next better priority. Out-of-range input is clamped
// and the result never passes PrioHighest.
func NextHigher(b Backend, prio int) int {
	hi, lo := b.PrioHighest(), b.PrioLowest()
	if lowerIsBetter(b) {
		switch {
		case prio <= hi:
			return hi
		case prio > lo:
			return lo
		}
		return prio - 1
	}
	switch {
	case prio >= hi:
		return hi
	case prio < lo:
		return lo
	}
	return prio + 1
}

// NextLower returns the next worse priority. Out-of-range input is clamped
// and the result never passes PrioLowest.
func NextLower(b Backend, prio int) int {
	hi, lo := b.PrioHighest(), b.PrioLowest()
	if lowerIsBetter(b) {
		switch {
		case prio >= lo:
			return lo
		case prio < hi:
			return hi
		}
		return prio + 1
	}
	switch {
	case prio <= lo:
		return lo
	case prio > hi:
		return hi
	}
	return prio - 1
}

// Higher reports whether a is a strictly better priority than b.
func Higher(be Backend, a, b int) bool {
	if lowerIsBetter(be) {
		return a < b
	}
	return a > b
}

package flavor

import (
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shm"
)

// PosixName selects the plain POSIX flavor.
const PosixName = "posix"

type posix struct {
	bus *message.Bus
}

func newPosix(bus *message.Bus) *posix { return &posix{bus: bus} }

func (p *posix) Name() string { return PosixName }
func (p *posix) Tag() exception.Tag { return exception.TagPosix }
func (p *posix) PrioHighest() int { return fifoMax }
func (p *posix) PrioLowest() int { return fifoMin }
func (p *posix) SupportsResume() bool { return false }
func (p *posix) DefaultShm() string { return shm.KindPosix }

// Enter only pins the thread; scheduling class stays SCHED_OTHER.
func (p *posix) Enter(t Thread) error {
	return pin(t.CPU)
}

func (p *posix) Sample(st *exception.ThreadStatus) {
	ru, ok := rusage()
	if !ok {
		return
	}
	st.SetCounters(int64(ru.Nvcsw), int64(ru.Nivcsw), int64(ru.Minflt), int64(ru.Majflt))
}

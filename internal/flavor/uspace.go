package flavor

import (
	"errors"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shm"
)

// UspaceName selects the user-space realtime flavor.
const UspaceName = "uspace"

type uspace struct {
	rt privileged
}

func newUspace(bus *message.Bus) *uspace {
	return &uspace{rt: privileged{bus: bus}}
}

func (u *uspace) Name() string { return UspaceName }
func (u *uspace) Tag() exception.Tag { return exception.TagUspace }
func (u *uspace) PrioHighest() int { return fifoMax }
func (u *uspace) PrioLowest() int { return fifoMin }
func (u *uspace) SupportsResume() bool { return false }
func (u *uspace) DefaultShm() string { return shm.KindPosix }

func (u *uspace) Enter(t Thread) error {
	return errors.Join(pin(t.CPU), u.rt.apply(t.Prio))
}

// Sample reports involuntary preemptions as mode switches: they are the
// points where the thread left realtime execution.
func (u *uspace) Sample(st *exception.ThreadStatus) {
	ru, ok := rusage()
	if !ok {
		return
	}
	st.SetCounters(
		int64(ru.Nivcsw),
		int64(ru.Nvcsw)+int64(ru.Nivcsw),
		int64(ru.Minflt)+int64(ru.Majflt),
		0,
	)
}

package exception

import "sync/atomic"

// Tag names the flavor whose statistics a ThreadStatus carries.
type Tag int

const (
	TagKernel Tag = iota + 1
	TagUspace
	TagPosix
)

// FlavorStats is the flavor-specific part of a status snapshot. Use a type
// switch over KernelStats, UspaceStats and PosixStats.
type FlavorStats interface {
	flavorStats()
}

// KernelStats is kept by the kernel-resident flavor.
type KernelStats struct {
	Overruns   int64
	LastExecNs int64
}

// UspaceStats is kept by the user-space realtime flavor.
type UspaceStats struct {
	Overruns        int64
	ModeSwitches    int64
	ContextSwitches int64
	PageFaults      int64
	LastExecNs      int64
}

// PosixStats is kept by the plain POSIX flavor.
type PosixStats struct {
	Overruns            int64
	VoluntarySwitches   int64
	InvoluntarySwitches int64
	MinorFaults         int64
	MajorFaults         int64
	LastExecNs          int64
}

func (KernelStats) flavorStats() {}
func (UspaceStats) flavorStats() {}
func (PosixStats) flavorStats()  {}

// ThreadStatus holds the rolling counters of one task slot. Writers use
// atomics only, so updates never allocate or block.
type ThreadStatus struct {
	tag atomic.Int32

	numUpdates  atomic.Int64
	apiErrors   atomic.Int64
	otherErrors atomic.Int64
	overruns    atomic.Int64
	lastExec    atomic.Int64
	extra       [4]atomic.Int64
}

// Status is a point-in-time copy of a ThreadStatus.
type Status struct {
	NumUpdates  int64
	APIErrors   int64
	OtherErrors int64
	Flavor      FlavorStats
}

// Reset clears every counter and sets the flavor tag.
func (s *ThreadStatus) Reset(tag Tag) {
	s.numUpdates.Store(0)
	s.apiErrors.Store(0)
	s.otherErrors.Store(0)
	s.overruns.Store(0)
	s.lastExec.Store(0)
	for i := range s.extra {
		s.extra[i].Store(0)
	}
	s.tag.Store(int32(tag))
}

// Cycle counts one completed Wait and records how long the body ran.
func (s *ThreadStatus) Cycle(execNs int64) {
	s.numUpdates.Add(1)
	s.lastExec.Store(execNs)
}

// AddOverruns adds skipped release points.
func (s *ThreadStatus) AddOverruns(n int64) { s.overruns.Add(n) }

// SetCounters stores flavor counters sampled from the OS. Their meaning
// depends on the tag: uspace uses mode switches, context switches and page
// faults; posix uses voluntary and involuntary switches, minor and major
// faults.
func (s *ThreadStatus) SetCounters(a, b, c, d int64) {
	s.extra[0].Store(a)
	s.extra[1].Store(b)
	s.extra[2].Store(c)
	s.extra[3].Store(d)
}

// NumUpdates returns the number of completed cycles.
func (s *ThreadStatus) NumUpdates() int64 { return s.numUpdates.Load() }

// Overruns returns the accumulated skipped release points.
func (s *ThreadStatus) Overruns() int64 { return s.overruns.Load() }

// Flavor builds the flavor-specific view.
func (s *ThreadStatus) Flavor() FlavorStats {
	over, last := s.overruns.Load(), s.lastExec.Load()
	switch Tag(s.tag.Load()) {
	case TagUspace:
		return UspaceStats{
			Overruns:        over,
			ModeSwitches:    s.extra[0].Load(),
			ContextSwitches: s.extra[1].Load(),
			PageFaults:      s.extra[2].Load(),
			LastExecNs:      last,
		}
	case TagPosix:
		return PosixStats{
			Overruns:            over,
			VoluntarySwitches:   s.extra[0].Load(),
			InvoluntarySwitches: s.extra[1].Load(),
			MinorFaults:         s.extra[2].Load(),
			MajorFaults:         s.extra[3].Load(),
			LastExecNs:          last,
		}
	default:
		return KernelStats{Overruns: over, LastExecNs: last}
	}
}

// Snapshot copies the counters.
func (s *ThreadStatus) Snapshot() Status {
	return Status{
		NumUpdates:  s.numUpdates.Load(),
		APIErrors:   s.apiErrors.Load(),
		OtherErrors: s.otherErrors.Load(),
		Flavor:      s.Flavor(),
	}
}

package registry

import (
	"unsafe"

	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// Key is the reserved shared memory key of the registry block. Segment keys
// must never collide with it.
const Key = 0x90280A48

// Table capacities. Changing any of them changes Revision.
const (
	MaxModules = 64
	MaxTasks   = 64
	MaxShmems  = 32
	MaxSems    = 64
	MaxFifos   = 32
	MaxIRQs    = 16

	// NameLen is the longest module name kept; longer names are truncated.
	NameLen = 31
)

const (
	magic         = 0x52544150 // "RTAP"
	layoutVersion = 4
)

// Revision identifies the block layout. Every attacher must agree on it
// exactly.
const Revision = uint32(layoutVersion<<24) | uint32(unsafe.Sizeof(Data{}))&0xFFFFFF

// Header is the first record of the block.
type Header struct {
	Magic    uint32
	Revision uint32
	Mutex    uint32
	Attached int32

	TimerRunning int32
	RTCPU        int32
	TimerPeriod  int64
	MaxDelay     int64

	ModuleCount int32
	TaskCount   int32
	ShmemCount  int32
	SemCount    int32
	FifoCount   int32
	IRQCount    int32
}

// ModuleRecord describes one registered module. Kind doubles as the
// liveness tag: zero means the slot is free.
type ModuleRecord struct {
	Kind types.ModuleKind
	PID  int32
	Name [NameLen + 1]byte
}

// NameString returns the module name without padding.
func (m *ModuleRecord) NameString() string {
	n := 0
	for n < len(m.Name) && m.Name[n] != 0 {
		n++
	}
	return string(m.Name[:n])
}

// TaskRecord describes one task slot. State is the liveness tag.
type TaskRecord struct {
	State     types.TaskState
	Owner     int32
	Prio      int32
	CPU       int32
	UsesFP    int32
	PID       int32
	Period    int64
	StackSize int64
}

// ShmemRecord describes one segment. Key is the liveness tag. Pending is
// set while the owning caller maps or destroys the OS object with the
// mutex dropped.
type ShmemRecord struct {
	Key     int32
	RTUsers int32
	ULUsers int32
	Pending int32
	Size    int64
	Holders Bitmap
}

// SemRecord describes one semaphore. Users is the liveness tag.
type SemRecord struct {
	Key     int32
	Users   int32
	Holders Bitmap
}

// FIFO end flags.
const (
	FifoHasReader int32 = 1 << iota
	FifoHasWriter
	// FifoPending marks a FIFO whose object is being created or destroyed.
	FifoPending
)

// FifoRecord describes one FIFO. State is the liveness tag.
type FifoRecord struct {
	Key    int32
	State  int32
	Reader int32
	Writer int32
	Size   int64
}

// IRQRecord describes one interrupt line claim. IRQ is the liveness tag.
type IRQRecord struct {
	IRQ   int32
	Owner int32
}

// Data is the complete registry block.
type Data struct {
	Header  Header
	Modules [MaxModules + 1]ModuleRecord
	Tasks   [MaxTasks + 1]TaskRecord
	Shmems  [MaxShmems + 1]ShmemRecord
	Sems    [MaxSems + 1]SemRecord
	Fifos   [MaxFifos + 1]FifoRecord
	IRQs    [MaxIRQs + 1]IRQRecord
}

// Size is the number of bytes the block occupies.
const Size = int(unsafe.Sizeof(Data{}))

// Table selects one of the resource arrays.
type Table int

const (
	Modules Table = iota
	Tasks
	Shmems
	Sems
	Fifos
	IRQs
)

// String returns the string representation of the table
func (t Table) String() string {
	switch t {
	case Modules:
		return "module"
	case Tasks:
		return "task"
	case Shmems:
		return "shmem"
	case Sems:
		return "sem"
	case Fifos:
		return "fifo"
	case IRQs:
		return "irq"
	default:
		return "unknown"
	}
}

// Capacity returns the number of usable slots of t.
func (t Table) Capacity() int {
	switch t {
	case Modules:
		return MaxModules
	case Tasks:
		return MaxTasks
	case Shmems:
		return MaxShmems
	case Sems:
		return MaxSems
	case Fifos:
		return MaxFifos
	case IRQs:
		return MaxIRQs
	default:
		return 0
	}
}

// Live reports whether slot id of t is allocated.
func (d *Data) Live(t Table, id int) bool {
	if id < 1 || id > t.Capacity() {
		return false
	}
	switch t {
	case Modules:
		return d.Modules[id].Kind != 0
	case Tasks:
		return d.Tasks[id].State != types.TaskEmpty
	case Shmems:
		return d.Shmems[id].Key != 0
	case Sems:
		return d.Sems[id].Users != 0
	case Fifos:
		return d.Fifos[id].State != 0
	case IRQs:
		return d.IRQs[id].IRQ != 0
	}
	return false
}

// Lookup validates a handle: out of range or not live is InvalidHandle.
func (d *Data) Lookup(t Table, id int) error {
	if !d.Live(t, id) {
		return errs.Op(t.String(), id, errs.ErrInvalidHandle)
	}
	return nil
}

// Allocate returns the first free slot of t and counts it as used. The
// caller must set the slot's liveness tag before the mutex is released.
func (d *Data) Allocate(t Table) (int, error) {
	for n := 1; n <= t.Capacity(); n++ {
		if !d.Live(t, n) {
			*d.count(t)++
			return n, nil
		}
	}
	return 0, errs.Op(t.String()+" allocate", 0, errs.ErrOutOfSlots)
}

func (d *Data) count(t Table) *int32 {
	switch t {
	case Modules:
		return &d.Header.ModuleCount
	case Tasks:
		return &d.Header.TaskCount
	case Shmems:
		return &d.Header.ShmemCount
	case Sems:
		return &d.Header.SemCount
	case Fifos:
		return &d.Header.FifoCount
	default:
		return &d.Header.IRQCount
	}
}

// Release clears slot id of t back to its zero record.
func (d *Data) Release(t Table, id int) error {
	if err := d.Lookup(t, id); err != nil {
		return err
	}
	switch t {
	case Modules:
		d.Modules[id] = ModuleRecord{}
	case Tasks:
		d.Tasks[id] = TaskRecord{}
	case Shmems:
		d.Shmems[id] = ShmemRecord{}
	case Sems:
		d.Sems[id] = SemRecord{}
	case Fifos:
		d.Fifos[id] = FifoRecord{}
	case IRQs:
		d.IRQs[id] = IRQRecord{}
	}
	*d.count(t)--
	return nil
}

// ModuleLive validates a module handle.
func (d *Data) ModuleLive(id types.ModuleID) error {
	return d.Lookup(Modules, int(id))
}

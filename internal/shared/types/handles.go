package types

// ModuleID identifies a registered client of the layer.
type ModuleID int

// TaskID identifies a realtime task slot.
type TaskID int

// ShmemID identifies a shared memory segment slot.
type ShmemID int

// SemID identifies a semaphore slot.
type SemID int

// FifoID identifies a FIFO slot.
type FifoID int

// ModuleKind tells on which side of the realtime boundary a module runs.
type ModuleKind int32

const (
	// KernelResident modules run in realtime context; their shared memory
	// references count against the realtime side.
	KernelResident ModuleKind = iota + 1
	// UserSpace modules are ordinary processes; their references count
	// against the non-realtime side.
	UserSpace
)

// String returns the string representation of the kind
func (k ModuleKind) String() string {
	switch k {
	case KernelResident:
		return "kernel"
	case UserSpace:
		return "user"
	default:
		return "unknown"
	}
}

// Realtime reports whether the kind counts against the realtime side.
func (k ModuleKind) Realtime() bool { return k == KernelResident }

// TaskState is the task lifecycle state.
type TaskState int32

const (
	TaskEmpty TaskState = iota
	TaskPaused
	TaskPeriodic
	TaskFreeRun
	TaskEnded
)

// String returns the string representation of the state
func (s TaskState) String() string {
	switch s {
	case TaskEmpty:
		return "empty"
	case TaskPaused:
		return "paused"
	case TaskPeriodic:
		return "periodic"
	case TaskFreeRun:
		return "free-run"
	case TaskEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Running reports whether the state has an active execution context.
func (s TaskState) Running() bool { return s == TaskPeriodic || s == TaskFreeRun }

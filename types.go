package rtapi

import (
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/ipc"
	"github.com/GriffinCanCode/rtapi/internal/irq"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/scheduler"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
	"github.com/GriffinCanCode/rtapi/internal/status"
)

// Handles.
type (
	ModuleID = types.ModuleID
	TaskID   = types.TaskID
	ShmemID  = types.ShmemID
	SemID    = types.SemID
	FifoID   = types.FifoID
)

// ModuleKind says whether a module runs in realtime context.
type ModuleKind = types.ModuleKind

const (
	KernelResident = types.KernelResident
	UserSpace      = types.UserSpace
)

// TaskState is the scheduling state of a task.
type TaskState = types.TaskState

const (
	TaskEmpty    = types.TaskEmpty
	TaskPaused   = types.TaskPaused
	TaskPeriodic = types.TaskPeriodic
	TaskFreeRun  = types.TaskFreeRun
	TaskEnded    = types.TaskEnded
)

// TaskBody is the code of a task; TaskOption adjusts a task at creation.
type (
	TaskBody   = scheduler.Body
	TaskOption = scheduler.TaskOption
	TaskInfo   = scheduler.TaskInfo
)

// WithCPU pins a task to cpu.
func WithCPU(cpu int) TaskOption { return scheduler.WithCPU(cpu) }

// MinStackSize is the smallest recorded task stack size.
const MinStackSize = scheduler.MinStackSize

// Message levels.
type (
	MsgLevel       = message.Level
	MessageHandler = message.Handler
)

const (
	MsgNone = message.None
	MsgErr  = message.Err
	MsgWarn = message.Warn
	MsgInfo = message.Info
	MsgDbg  = message.Dbg
	MsgAll  = message.All
)

// Exceptions and statistics.
type (
	ExceptionKind    = exception.Kind
	ExceptionDetail  = exception.Detail
	ExceptionHandler = exception.Handler
	ThreadStatus     = exception.ThreadStatus
	Status           = exception.Status
)

const (
	DeadlineMissed   = exception.DeadlineMissed
	ApiMisuse        = exception.ApiMisuse
	Interrupted      = exception.Interrupted
	PermissionDenied = exception.PermissionDenied
	TrapOrFault      = exception.TrapOrFault
	Unclassified     = exception.Unclassified
)

// IRQHandler runs for every event on an enabled interrupt line.
type IRQHandler = irq.Handler

// FIFO ends.
const (
	FifoRead  = ipc.ModeRead
	FifoWrite = ipc.ModeWrite
)

// Report is the read-only runtime view served by the status API.
type Report = status.Report

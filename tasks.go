package rtapi

import "context"

// TaskNew creates a paused task owned by owner. prio must be in the
// flavor's range; stackSize below MinStackSize is raised.
func (rt *Runtime) TaskNew(body TaskBody, arg any, prio int, owner ModuleID, stackSize int, usesFP bool, opts ...TaskOption) (TaskID, error) {
	return rt.sched.TaskNew(body, arg, prio, owner, stackSize, usesFP, opts...)
}

// TaskDelete stops a task and frees its slot.
func (rt *Runtime) TaskDelete(id TaskID) error { return rt.sched.TaskDelete(id) }

// TaskStart runs a paused task periodically. The period is rounded up to a
// multiple of the clock period.
func (rt *Runtime) TaskStart(id TaskID, periodNsec int64) error {
	return rt.sched.TaskStart(id, periodNsec)
}

// TaskPause suspends a running task at its next Wait.
func (rt *Runtime) TaskPause(id TaskID) error { return rt.sched.TaskPause(id) }

// TaskStop is TaskPause.
func (rt *Runtime) TaskStop(id TaskID) error { return rt.sched.TaskStop(id) }

// TaskResume runs a paused task in free-run mode.
func (rt *Runtime) TaskResume(id TaskID) error { return rt.sched.TaskResume(id) }

// TaskState returns the state of a task slot.
func (rt *Runtime) TaskState(id TaskID) TaskState { return rt.sched.State(id) }

// Tasks lists every live task.
func (rt *Runtime) Tasks() []TaskInfo { return rt.sched.Tasks() }

// Wait ends the calling task's cycle and sleeps until its next release.
// ctx must be the context its body received.
func (rt *Runtime) Wait(ctx context.Context) { rt.sched.Wait(ctx) }

// TaskSelf returns the id of the task whose body received ctx.
func (rt *Runtime) TaskSelf(ctx context.Context) (TaskID, error) { return rt.sched.TaskSelf(ctx) }

// PrioHighest returns the flavor's best priority.
func (rt *Runtime) PrioHighest() int { return rt.sched.PrioHighest() }

// PrioLowest returns the flavor's worst priority.
func (rt *Runtime) PrioLowest() int { return rt.sched.PrioLowest() }

// PrioNextHigher returns the next better priority, clamped to the range.
func (rt *Runtime) PrioNextHigher(prio int) int { return rt.sched.PrioNextHigher(prio) }

// PrioNextLower returns the next worse priority, clamped to the range.
func (rt *Runtime) PrioNextLower(prio int) int { return rt.sched.PrioNextLower(prio) }

// ClockSetPeriod configures the base timer. 0 queries the current period.
func (rt *Runtime) ClockSetPeriod(nsecs int64) (int64, error) {
	return rt.sched.ClockSetPeriod(nsecs)
}

// GetTime returns monotonic nanoseconds.
func (rt *Runtime) GetTime() int64 { return rt.sched.GetTime() }

// GetCycles returns the raw counter. Values are not comparable across
// processes.
func (rt *Runtime) GetCycles() int64 { return rt.sched.GetCycles() }

// Delay busy-waits nsec, clamped to DelayMax.
func (rt *Runtime) Delay(nsec int64) { rt.sched.Delay(nsec) }

// DelayMax returns the longest Delay allowed.
func (rt *Runtime) DelayMax() int64 { return rt.sched.DelayMax() }

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/rtapi/internal/clock"
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/flavor"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// Body is the code of a task. It receives a context identifying the task and
// the argument given to TaskNew.
type Body func(ctx context.Context, arg any)

// TaskOption adjusts a task at creation.
type TaskOption func(*task)

// WithCPU pins the task to cpu instead of the registry's realtime CPU.
func WithCPU(cpu int) TaskOption {
	return func(t *task) { t.cpu = cpu }
}

type task struct {
	id        types.TaskID
	owner     types.ModuleID
	body      Body
	arg       any
	prio      int
	cpu       int
	stackSize int
	usesFP    bool
	status    *exception.ThreadStatus

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu      sync.Mutex
	period  int64
	release int64
	done    chan struct{} // nil while no goroutine runs

	// cycleStart and miss are only touched by the task goroutine.
	cycleStart int64
	miss       exception.Miss
}

func (t *task) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// TaskNew reserves a task slot. The task starts paused and does not run
// until TaskStart or TaskResume.
func (s *Scheduler) TaskNew(body Body, arg any, prio int, owner types.ModuleID, stackSize int, usesFP bool, opts ...TaskOption) (types.TaskID, error) {
	if body == nil {
		return 0, errs.Op("task_new", 0, errs.ErrOutOfRange)
	}
	if !flavor.InRange(s.flavor, prio) {
		return 0, errs.Op("task_new", 0, errs.ErrOutOfRange)
	}
	if stackSize < MinStackSize {
		s.bus.Debugf("RTAPI: task stack size %d raised to %d", stackSize, MinStackSize)
		stackSize = MinStackSize
	}

	t := &task{
		owner:     owner,
		body:      body,
		arg:       arg,
		prio:      prio,
		cpu:       -1,
		stackSize: stackSize,
		usesFP:    usesFP,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}

	var id int
	err := s.reg.With(func(d *registry.Data) error {
		if err := d.ModuleLive(owner); err != nil {
			return err
		}
		if t.cpu < 0 {
			t.cpu = int(d.Header.RTCPU)
		}
		n, err := d.Allocate(registry.Tasks)
		if err != nil {
			return err
		}
		id = n
		d.Tasks[n] = registry.TaskRecord{
			State:     types.TaskPaused,
			Owner:     int32(owner),
			Prio:      int32(prio),
			CPU:       int32(t.cpu),
			UsesFP:    boolInt(usesFP),
			PID:       s.reg.PID(),
			StackSize: int64(stackSize),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrOutOfSlots) {
			s.bus.Errorf("RTAPI: ERROR: reached task limit %d", registry.MaxTasks)
		}
		return 0, errs.Op("task_new", id, err)
	}

	t.id = types.TaskID(id)
	t.ctx, t.cancel = context.WithCancel(s.base)
	t.status = s.rep.Status(t.id)
	t.status.Reset(s.flavor.Tag())

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()

	s.bus.Debugf("RTAPI: task %02d installed by module %02d, priority %d, cpu %d", id, owner, prio, t.cpu)
	return t.id, nil
}

func (s *Scheduler) local(id types.TaskID) (*task, error) {
	if id < 1 || id > registry.MaxTasks {
		return nil, errs.ErrInvalidHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tasks[id]; t != nil {
		return t, nil
	}
	return nil, errs.ErrInvalidHandle
}

// transition moves a task from one of the allowed states to next. A live
// task in any other state yields ErrAlreadySet; an ended or free slot
// yields ErrInvalidHandle.
func (s *Scheduler) transition(id types.TaskID, next types.TaskState, from ...types.TaskState) (types.TaskState, error) {
	var prev types.TaskState
	err := s.reg.With(func(d *registry.Data) error {
		if err := d.Lookup(registry.Tasks, int(id)); err != nil {
			return errs.ErrInvalidHandle
		}
		rec := &d.Tasks[id]
		prev = rec.State
		for _, st := range from {
			if rec.State == st {
				rec.State = next
				return nil
			}
		}
		if rec.State == types.TaskEnded {
			return errs.ErrInvalidHandle
		}
		return errs.ErrAlreadySet
	})
	return prev, err
}

// TaskStart makes a paused task periodic. The clock must be configured;
// the period is rounded up to a multiple of the clock period and the first
// release is one period from now.
func (s *Scheduler) TaskStart(id types.TaskID, periodNsec int64) error {
	t, err := s.local(id)
	if err != nil {
		return errs.Op("task_start", int(id), err)
	}
	if periodNsec <= 0 {
		return errs.Op("task_start", int(id), errs.ErrOutOfRange)
	}

	// t.mu is held across the state change so the task never observes
	// Periodic with a stale release point.
	t.mu.Lock()
	var period int64
	err = s.reg.With(func(d *registry.Data) error {
		if err := d.Lookup(registry.Tasks, int(id)); err != nil {
			return errs.ErrInvalidHandle
		}
		rec := &d.Tasks[id]
		switch rec.State {
		case types.TaskPaused:
		case types.TaskEnded:
			return errs.ErrInvalidHandle
		default:
			return errs.ErrAlreadySet
		}
		if d.Header.TimerRunning == 0 || d.Header.TimerPeriod == 0 {
			return errs.ErrNotInitialized
		}
		period = clock.Quantize(periodNsec, d.Header.TimerPeriod)
		rec.State = types.TaskPeriodic
		rec.Period = period
		t.period = period
		t.release = s.clk.Now() + period
		return nil
	})
	t.mu.Unlock()
	if err != nil {
		if errors.Is(err, errs.ErrNotInitialized) {
			s.bus.Errorf("RTAPI: could not start task: timer isn't running")
		}
		return errs.Op("task_start", int(id), err)
	}

	s.activate(t)

	s.bus.Debugf("RTAPI: start_task id: %02d, period_nsec: %d", id, period)
	return nil
}

// TaskPause stops a running task at its next Wait.
func (s *Scheduler) TaskPause(id types.TaskID) error {
	if _, err := s.local(id); err != nil {
		return errs.Op("task_pause", int(id), err)
	}
	if _, err := s.transition(id, types.TaskPaused, types.TaskPeriodic, types.TaskFreeRun); err != nil {
		return errs.Op("task_pause", int(id), err)
	}
	return nil
}

// TaskStop is TaskPause.
func (s *Scheduler) TaskStop(id types.TaskID) error { return s.TaskPause(id) }

// TaskResume lets a paused task run free, without periodic release. A task
// parked in Wait observes the resume as Interrupted.
func (s *Scheduler) TaskResume(id types.TaskID) error {
	t, err := s.local(id)
	if err != nil {
		return errs.Op("task_resume", int(id), err)
	}
	if !s.flavor.SupportsResume() {
		return errs.Op("task_resume", int(id), errs.ErrUnsupported)
	}
	if _, err := s.transition(id, types.TaskFreeRun, types.TaskPaused); err != nil {
		return errs.Op("task_resume", int(id), err)
	}
	s.activate(t)
	return nil
}

// activate wakes a parked task goroutine or spawns one.
func (s *Scheduler) activate(t *task) {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		t.signal()
		return
	}
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()
	go s.run(t, done)
}

// TaskDelete frees a task slot. A running task is paused first; its
// goroutine is cancelled and joined, so a task must not delete itself. The
// last task deleted releases the periodic clock.
func (s *Scheduler) TaskDelete(id types.TaskID) error {
	t, err := s.local(id)
	if err != nil {
		return errs.Op("task_delete", int(id), err)
	}
	prev, err := s.transition(id, types.TaskPaused, types.TaskPeriodic, types.TaskFreeRun)
	switch {
	case err == nil:
		s.bus.Warnf("RTAPI: WARNING: tried to delete task %02d while running", id)
	case errors.Is(err, errs.ErrInvalidHandle) && prev == types.TaskEmpty:
		return errs.Op("task_delete", int(id), err)
	}

	t.cancel()
	t.signal()
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}

	// The local record goes first so the slot cannot be reused while it
	// still points at t. Only the caller that removes t releases the slot.
	s.mu.Lock()
	owned := s.tasks[id] == t
	if owned {
		s.tasks[id] = nil
	}
	s.mu.Unlock()
	if !owned {
		return errs.Op("task_delete", int(id), errs.ErrInvalidHandle)
	}

	err = s.reg.With(func(d *registry.Data) error {
		if err := d.Release(registry.Tasks, int(id)); err != nil {
			return err
		}
		if d.Header.TaskCount == 0 && d.Header.TimerRunning != 0 {
			releaseClock(d)
			s.bus.Debugf("RTAPI: last task deleted, timer released")
		}
		return nil
	})
	if err != nil {
		return errs.Op("task_delete", int(id), err)
	}
	s.bus.Debugf("RTAPI: task %02d deleted", id)
	return nil
}

// releaseModule deletes every local task the module still owns.
func (s *Scheduler) releaseModule(module types.ModuleID) {
	for id := 1; id <= registry.MaxTasks; id++ {
		s.mu.Lock()
		t := s.tasks[id]
		s.mu.Unlock()
		if t == nil || t.owner != module {
			continue
		}
		s.bus.Warnf("RTAPI: WARNING: module %02d failed to delete task %02d", module, id)
		if err := s.TaskDelete(types.TaskID(id)); err != nil {
			s.bus.Errorf("RTAPI: ERROR: forced task %02d delete: %v", id, err)
		}
	}
}

// State returns the state recorded for a task slot.
func (s *Scheduler) State(id types.TaskID) types.TaskState {
	var st types.TaskState
	_ = s.reg.With(func(d *registry.Data) error {
		if id >= 1 && id <= registry.MaxTasks {
			st = d.Tasks[id].State
		}
		return nil
	})
	return st
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

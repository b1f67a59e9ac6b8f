package scheduler

import (
	"context"
	"runtime"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/flavor"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

type ctxKey struct{}

func withTask(ctx context.Context, t *task) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

func taskFrom(ctx context.Context) *task {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(ctxKey{}).(*task)
	return t
}

// TaskSelf returns the id of the task whose body received ctx.
func (s *Scheduler) TaskSelf(ctx context.Context) (types.TaskID, error) {
	t := taskFrom(ctx)
	if t == nil {
		return 0, errs.Op("task_self", 0, errs.ErrInvalidHandle)
	}
	return t.id, nil
}

// run is the goroutine behind a task. Its OS thread stays locked and is
// discarded when the goroutine ends.
func (s *Scheduler) run(t *task, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.done == done {
			t.done = nil
		}
		t.mu.Unlock()
		close(done)
	}()
	runtime.LockOSThread()

	if err := s.flavor.Enter(flavor.Thread{Prio: t.prio, CPU: t.cpu, UsesFP: t.usesFP}); err != nil {
		s.bus.Warnf("RTAPI: WARNING: task %02d thread setup: %v", t.id, err)
	}

	defer func() {
		v := recover()
		if v == nil {
			return
		}
		s.bus.Errorf("RTAPI: Task %d: Fault %v. This fault may not be recoverable.", t.id, v)
		s.rep.Report(exception.TrapOrFault, t.id, exception.Trap{Value: v})
		_, _ = s.transition(t.id, types.TaskPaused, types.TaskPeriodic, types.TaskFreeRun)
	}()

	ctx := withTask(t.ctx, t)
	switch s.State(t.id) {
	case types.TaskPeriodic:
		s.firstRelease(t)
	case types.TaskFreeRun:
		t.cycleStart = s.clk.Now()
	default:
		if !s.park(t) {
			s.firstRelease(t)
		}
	}

	t.body(ctx, t.arg)
	if t.ctx.Err() != nil {
		return
	}
	if _, err := s.transition(t.id, types.TaskEnded, types.TaskPeriodic, types.TaskFreeRun, types.TaskPaused); err == nil {
		s.bus.Errorf("RTAPI: ERROR: task %02d returned from its body", t.id)
	}
}

// firstRelease sleeps until the release point TaskStart recorded.
func (s *Scheduler) firstRelease(t *task) {
	t.mu.Lock()
	release, period := t.release, t.period
	t.mu.Unlock()
	if err := s.clk.SleepUntil(t.ctx, release); err != nil && t.ctx.Err() != nil {
		runtime.Goexit()
	}
	t.mu.Lock()
	if t.release == release {
		t.release = release + period
	}
	t.mu.Unlock()
	t.cycleStart = s.clk.Now()
}

// Wait ends the current cycle of the calling task and blocks until its next
// release point. It never fails: lateness, misuse and interruption are
// reported through the exception reporter. Wait does not return once the
// task has been deleted.
func (s *Scheduler) Wait(ctx context.Context) {
	t := taskFrom(ctx)
	if t == nil {
		s.rep.Report(exception.PermissionDenied, 0, exception.Note{Text: "wait called outside a realtime task"})
		return
	}
	if t.ctx.Err() != nil {
		runtime.Goexit()
	}

	t.status.Cycle(s.clk.Now() - t.cycleStart)
	s.flavor.Sample(t.status)

	switch st := s.State(t.id); st {
	case types.TaskPeriodic:
		s.nextRelease(t)
	case types.TaskFreeRun:
		s.rep.Report(exception.ApiMisuse, t.id, exception.Misuse{Op: "wait", State: st.String()})
	case types.TaskPaused:
		if s.park(t) {
			s.rep.Report(exception.Interrupted, t.id, exception.Note{Text: "resumed while waiting for release"})
			t.cycleStart = s.clk.Now()
			return
		}
		s.nextRelease(t)
	default:
		runtime.Goexit()
	}
}

// park blocks a paused task until it is started, resumed or deleted. It
// reports whether the task was resumed into free-run mode.
func (s *Scheduler) park(t *task) bool {
	for {
		switch s.State(t.id) {
		case types.TaskPeriodic:
			return false
		case types.TaskFreeRun:
			return true
		case types.TaskPaused:
		default:
			runtime.Goexit()
		}
		select {
		case <-t.wake:
		case <-t.ctx.Done():
			runtime.Goexit()
		}
	}
}

// nextRelease sleeps until the task's next release point. When the point
// has already passed, the skipped points are counted as overruns, one
// DeadlineMissed is reported, and the schedule moves to the first point
// after now.
func (s *Scheduler) nextRelease(t *task) {
	t.mu.Lock()
	release, period := t.release, t.period
	t.mu.Unlock()

	target := release
	if now := s.clk.Now(); now > release {
		skipped := (now-release)/period + 1
		target = release + skipped*period
		t.status.AddOverruns(skipped)
		t.miss = exception.Miss{Release: release, Now: now, Period: period, Skipped: skipped}
		s.rep.Report(exception.DeadlineMissed, t.id, &t.miss)
	}

	if err := s.clk.SleepUntil(t.ctx, target); err != nil && t.ctx.Err() != nil {
		runtime.Goexit()
	}

	t.mu.Lock()
	if t.release == release {
		t.release = target + period
	}
	t.mu.Unlock()
	t.cycleStart = s.clk.Now()
}

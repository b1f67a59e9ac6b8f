// Package scheduler runs periodic realtime tasks.
//
// Task records live in the shared registry; the goroutines that execute
// them live here, one per started task, each locked to its own OS thread and
// configured by the active flavor. A task body receives a context that
// identifies the task and calls Wait at the end of every cycle.
//
// Wait never returns an error. A late cycle is counted as an overrun and
// reported through the exception reporter; a deleted task never returns
// from Wait.
package scheduler

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/rtapi/internal/clock"
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/flavor"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// MinStackSize is the smallest stack size recorded for a task.
const MinStackSize = 16 * 1024

// Scheduler owns this process's task execution contexts.
type Scheduler struct {
	reg    *registry.Registry
	flavor flavor.Backend
	clk    clock.Clock
	rep    *exception.Reporter
	bus    *message.Bus

	base   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks [registry.MaxTasks + 1]*task
}

// New creates a scheduler and registers its module exit hook.
func New(reg *registry.Registry, fl flavor.Backend, clk clock.Clock, rep *exception.Reporter) *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		reg:    reg,
		flavor: fl,
		clk:    clk,
		rep:    rep,
		bus:    reg.Bus(),
		base:   base,
		cancel: cancel,
	}
	reg.OnModuleExit(s.releaseModule)
	return s
}

// Flavor returns the active scheduling backend.
func (s *Scheduler) Flavor() flavor.Backend { return s.flavor }

// Clock returns the time source.
func (s *Scheduler) Clock() clock.Clock { return s.clk }

// Reporter returns the exception reporter tasks report through.
func (s *Scheduler) Reporter() *exception.Reporter { return s.rep }

// ClockSetPeriod configures the periodic timer once. A zero request only
// returns the configured period (0 when unset). The period is rounded down
// to the clock resolution.
func (s *Scheduler) ClockSetPeriod(nsecs int64) (int64, error) {
	var period int64
	err := s.reg.With(func(d *registry.Data) error {
		h := &d.Header
		period = h.TimerPeriod
		if nsecs == 0 {
			return nil
		}
		if h.TimerRunning != 0 {
			return errs.ErrAlreadySet
		}
		got, ok := clock.Negotiate(nsecs, s.clk.Resolution())
		if !ok {
			return errs.ErrOutOfRange
		}
		h.TimerPeriod = got
		h.TimerRunning = 1
		h.MaxDelay = got / 4
		period = got
		return nil
	})
	if err != nil {
		return period, errs.Op("clock_set_period", 0, err)
	}
	if nsecs != 0 {
		s.bus.Debugf("RTAPI: clock_set_period requested: %d  actual: %d", nsecs, period)
	}
	return period, nil
}

// releaseClock returns the timer to the unconfigured state.
func releaseClock(d *registry.Data) {
	d.Header.TimerRunning = 0
	d.Header.TimerPeriod = 0
	d.Header.MaxDelay = 0
}

// GetTime returns monotonic nanoseconds.
func (s *Scheduler) GetTime() int64 { return s.clk.Now() }

// GetCycles returns the raw counter.
func (s *Scheduler) GetCycles() int64 { return s.clk.Cycles() }

// DelayMax returns the longest busy wait Delay performs.
func (s *Scheduler) DelayMax() int64 {
	maxDelay := int64(clock.DefaultMaxDelay)
	_ = s.reg.With(func(d *registry.Data) error {
		if d.Header.TimerRunning != 0 && d.Header.MaxDelay > 0 {
			maxDelay = d.Header.MaxDelay
		}
		return nil
	})
	return maxDelay
}

// Delay busy-waits for nsec, clamped to DelayMax.
func (s *Scheduler) Delay(nsec int64) {
	if nsec <= 0 {
		return
	}
	if m := s.DelayMax(); nsec > m {
		nsec = m
	}
	clock.BusyWait(s.clk, nsec)
}

// Close deletes every task this process still runs.
func (s *Scheduler) Close() {
	for id := 1; id <= registry.MaxTasks; id++ {
		s.mu.Lock()
		t := s.tasks[id]
		s.mu.Unlock()
		if t != nil {
			_ = s.TaskDelete(types.TaskID(id))
		}
	}
	s.cancel()
}

// PrioHighest returns the best priority of the active flavor.
func (s *Scheduler) PrioHighest() int { return s.flavor.PrioHighest() }

// PrioLowest returns the worst priority of the active flavor.
func (s *Scheduler) PrioLowest() int { return s.flavor.PrioLowest() }

// PrioNextHigher steps one priority level up, clamped to the range.
func (s *Scheduler) PrioNextHigher(prio int) int { return flavor.NextHigher(s.flavor, prio) }

// PrioNextLower steps one priority level down, clamped to the range.
func (s *Scheduler) PrioNextLower(prio int) int { return flavor.NextLower(s.flavor, prio) }

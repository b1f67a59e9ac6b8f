// Package watchdog trips an emergency stop when a task keeps missing its
// deadlines.
//
// A Watchdog wraps an exception handler. It counts consecutive
// DeadlineMissed reports per task; a cycle that completes on time between
// two misses clears the count. When the count reaches the threshold the
// task's line trips and the e-stop callback runs once. The line re-arms
// after the next clean cycle or an explicit Reset.
package watchdog

import (
	"sync"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// State represents a task's watchdog state
type State int

const (
	StateArmed State = iota
	StateTripped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateTripped:
		return "tripped"
	default:
		return "unknown"
	}
}

// DefaultThreshold is the number of consecutive late cycles that trips a
// line when Settings.Threshold is zero.
const DefaultThreshold = 3

// Settings configures the watchdog behavior
type Settings struct {
	// Threshold is the number of consecutive late cycles that trips a line
	Threshold int64
	// EStop is called once per trip with the task and its consecutive misses
	EStop func(task types.TaskID, counts Counts)
	// OnStateChange is called whenever a line changes state
	OnStateChange func(task types.TaskID, from State, to State)
}

// Counts holds the statistics of one task
type Counts struct {
	Misses      int64
	Skipped     int64
	Consecutive int64
	Trips       int64
}

type line struct {
	state      State
	counts     Counts
	lastUpdate int64
}

// Watchdog is an exception handler that watches deadline misses.
type Watchdog struct {
	settings Settings
	next     exception.Handler

	mu    sync.Mutex
	lines [registry.MaxTasks + 1]line
}

// New creates a watchdog that forwards every report to next after
// accounting for it. A nil next drops reports.
func New(settings Settings, next exception.Handler) *Watchdog {
	if settings.Threshold <= 0 {
		settings.Threshold = DefaultThreshold
	}
	return &Watchdog{settings: settings, next: next}
}

// Handle is the exception handler entry point.
func (w *Watchdog) Handle(kind exception.Kind, task types.TaskID, detail exception.Detail, status *exception.ThreadStatus) {
	if kind == exception.DeadlineMissed && task > 0 && int(task) < len(w.lines) && status != nil {
		w.onMiss(task, detail, status.NumUpdates())
	}
	if w.next != nil {
		w.next(kind, task, detail, status)
	}
}

// onMiss accounts for one late cycle. updates is the task's cycle counter;
// a gap since the previous miss means a clean cycle ran in between.
func (w *Watchdog) onMiss(task types.TaskID, detail exception.Detail, updates int64) {
	w.mu.Lock()
	l := &w.lines[task]

	if l.lastUpdate != 0 && updates != l.lastUpdate+1 {
		l.counts.Consecutive = 0
		w.setState(task, l, StateArmed)
	}
	l.lastUpdate = updates
	l.counts.Misses++
	l.counts.Consecutive++
	if m, ok := detail.(*exception.Miss); ok {
		l.counts.Skipped += m.Skipped
	}

	var trip bool
	if l.state == StateArmed && l.counts.Consecutive >= w.settings.Threshold {
		l.counts.Trips++
		w.setState(task, l, StateTripped)
		trip = true
	}
	counts := l.counts
	w.mu.Unlock()

	if trip && w.settings.EStop != nil {
		w.settings.EStop(task, counts)
	}
}

// setState changes the state of a line
func (w *Watchdog) setState(task types.TaskID, l *line, state State) {
	if l.state == state {
		return
	}
	prev := l.state
	l.state = state
	if w.settings.OnStateChange != nil {
		w.settings.OnStateChange(task, prev, state)
	}
}

// State returns the state of task's line
func (w *Watchdog) State(task types.TaskID) State {
	if task <= 0 || int(task) >= len(w.lines) {
		return StateArmed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines[task].state
}

// Counts returns a copy of task's counts
func (w *Watchdog) Counts(task types.TaskID) Counts {
	if task <= 0 || int(task) >= len(w.lines) {
		return Counts{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines[task].counts
}

// Reset re-arms task's line and clears its counts.
func (w *Watchdog) Reset(task types.TaskID) {
	if task <= 0 || int(task) >= len(w.lines) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	l := &w.lines[task]
	w.setState(task, l, StateArmed)
	*l = line{}
}

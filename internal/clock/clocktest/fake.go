// Package clocktest provides a manually driven clock for scheduler tests.
package clocktest

import (
	"context"
	"sync"
)

// Fake is a clock that only moves when told to. SleepUntil jumps the clock
// forward to the deadline instead of blocking, which turns a periodic task
// into a tight deterministic loop.
type Fake struct {
	mu     sync.Mutex
	now    int64
	res    int64
	sleeps int
}

// NewFake returns a fake clock starting at start with 1ns resolution.
func NewFake(start int64) *Fake {
	return &Fake{now: start, res: 1}
}

// WithResolution sets the reported timer resolution.
func (f *Fake) WithResolution(res int64) *Fake {
	f.mu.Lock()
	f.res = res
	f.mu.Unlock()
	return f
}

func (f *Fake) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Cycles() int64 { return f.Now() }

func (f *Fake) Resolution() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res
}

func (f *Fake) SleepUntil(ctx context.Context, deadline int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if deadline > f.now {
		f.now = deadline
	}
	f.sleeps++
	f.mu.Unlock()
	return ctx.Err()
}

// Advance moves the clock forward by d nanoseconds.
func (f *Fake) Advance(d int64) {
	f.mu.Lock()
	f.now += d
	f.mu.Unlock()
}

// Sleeps returns how many times SleepUntil was called.
func (f *Fake) Sleeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleeps
}

// Package clock provides the monotonic time source, timer-period
// negotiation and the raw cycle counter used by the scheduler.
//
// Time is expressed as int64 nanoseconds since an arbitrary epoch. Clock is an
// interface so that scheduling tests can run against a fake clock and observe
// deadline accounting deterministically.
package clock

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

// Period limits accepted by the periodic timer.
const (
	MinPeriod = 2_000
	MaxPeriod = 1_000_000_000

	// DefaultMaxDelay bounds Delay before the timer has been configured.
	DefaultMaxDelay = 10_000
)

// Clock is a monotonic time source that can sleep until an absolute instant.
type Clock interface {
	// Now returns monotonic nanoseconds. It never goes backwards.
	Now() int64
	// Cycles returns a raw free-running counter for relative timing only.
	Cycles() int64
	// Resolution is the granularity of the underlying timer in nanoseconds.
	Resolution() int64
	// SleepUntil blocks until Now() >= deadline. Cancellation is observed
	// before and after the sleep, not during it.
	SleepUntil(ctx context.Context, deadline int64) error
}

// Monotonic reads CLOCK_MONOTONIC and sleeps with clock_nanosleep in
// absolute mode, so a late wakeup never accumulates drift.
type Monotonic struct {
	res int64
}

// NewMonotonic creates a monotonic clock and records its resolution.
func NewMonotonic() *Monotonic {
	var ts unix.Timespec
	res := int64(1)
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err == nil && ts.Nano() > 0 {
		res = ts.Nano()
	}
	return &Monotonic{res: res}
}

func (m *Monotonic) Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

// Cycles reads CLOCK_MONOTONIC_RAW, which is not slewed by NTP. Values are
// not comparable across machines and drift against Now after frequency
// changes.
func (m *Monotonic) Cycles() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

func (m *Monotonic) Resolution() int64 { return m.res }

func (m *Monotonic) SleepUntil(ctx context.Context, deadline int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := unix.NsecToTimespec(deadline)
	for {
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
	return ctx.Err()
}

// Negotiate validates a requested timer period and rounds it down to the
// clock resolution, never below one resolution step.
func Negotiate(nsecs, resolution int64) (int64, bool) {
	if nsecs < MinPeriod || nsecs > MaxPeriod {
		return 0, false
	}
	if resolution <= 1 {
		return nsecs, true
	}
	counts := nsecs / resolution
	if counts < 1 {
		counts = 1
	}
	return counts * resolution, true
}

// Quantize rounds period up to the next multiple of tick.
func Quantize(period, tick int64) int64 {
	if tick <= 0 {
		return period
	}
	if period <= tick {
		return tick
	}
	return ((period + tick - 1) / tick) * tick
}

// BusyWait spins for nsec nanoseconds on clk.
func BusyWait(clk Clock, nsec int64) {
	end := clk.Now() + nsec
	for clk.Now() < end {
	}
}

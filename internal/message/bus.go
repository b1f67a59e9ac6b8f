// Package message implements the leveled print path every RTAPI component
// reports through.
//
// A Bus filters messages by the current level and hands the formatted text to
// a single pluggable sink. The default sink forwards to the zap logger; a
// collaborator can install its own sink (for example to route realtime
// diagnostics into a ring buffer) with SetHandler.
package message

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// Level orders messages by severity. Lower values are more severe; None
// silences filtered output entirely.
type Level int32

const (
	None Level = iota
	Err
	Warn
	Info
	Dbg
	All
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Err:
		return "error"
	case Warn:
		return "warn"
	case Info:
		return "info"
	case Dbg:
		return "debug"
	case All:
		return "all"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	for l := None; l <= All; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return None, fmt.Errorf("message level %q: %w", s, errs.ErrOutOfRange)
}

// Handler receives every message that passes the level filter. Handlers may
// be called from realtime task goroutines and must not block.
type Handler func(level Level, msg string)

// Bus is the leveled message dispatcher.
type Bus struct {
	level   atomic.Int32
	handler atomic.Pointer[Handler]
	def     Handler
}

// NewBus creates a bus writing to logger at the given level.
func NewBus(logger *logging.Logger, level Level) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Bus{def: zapSink(logger.Logger)}
	b.level.Store(int32(level))
	b.handler.Store(&b.def)
	return b
}

// SetLevel changes the filter level.
func (b *Bus) SetLevel(level Level) error {
	if level < None || level > All {
		return errs.Op("set_msg_level", int(level), errs.ErrOutOfRange)
	}
	b.level.Store(int32(level))
	return nil
}

// Level returns the current filter level.
func (b *Bus) Level() Level {
	return Level(b.level.Load())
}

// SetHandler installs h as the sink. A nil handler restores the default.
func (b *Bus) SetHandler(h Handler) {
	if h == nil {
		b.handler.Store(&b.def)
		return
	}
	b.handler.Store(&h)
}

// Handler returns the installed sink.
func (b *Bus) Handler() Handler {
	return *b.handler.Load()
}

// Enabled reports whether a message at level would be delivered.
func (b *Bus) Enabled(level Level) bool {
	cur := b.Level()
	return cur != None && level <= cur
}

// Print delivers a message regardless of the filter level.
func (b *Bus) Print(format string, args ...any) {
	(*b.handler.Load())(All, fmt.Sprintf(format, args...))
}

// PrintMsg delivers a message if level passes the filter.
func (b *Bus) PrintMsg(level Level, format string, args ...any) {
	if !b.Enabled(level) {
		return
	}
	(*b.handler.Load())(level, fmt.Sprintf(format, args...))
}

func (b *Bus) Errorf(format string, args ...any) { b.PrintMsg(Err, format, args...) }
func (b *Bus) Warnf(format string, args ...any)  { b.PrintMsg(Warn, format, args...) }
func (b *Bus) Infof(format string, args ...any)  { b.PrintMsg(Info, format, args...) }
func (b *Bus) Debugf(format string, args ...any) { b.PrintMsg(Dbg, format, args...) }

func zapSink(logger *zap.Logger) Handler {
	return func(level Level, msg string) {
		if ce := logger.Check(zapLevel(level), msg); ce != nil {
			ce.Write(zap.Stringer("rtapi_level", level))
		}
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case Err:
		return zapcore.ErrorLevel
	case Warn:
		return zapcore.WarnLevel
	case Info, All:
		// All is what Print uses, and unfiltered output must reach an
		// info-level logger.
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

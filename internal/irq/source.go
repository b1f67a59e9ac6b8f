// Package irq delivers interrupt events to module handlers.
//
// A Source opens interrupt lines by number. The uio source reads event
// counts from Linux UIO devices; the soft source raises events from code and
// backs tests and simulation. Every claimed line gets its own goroutine that
// waits for events and calls the handler while the line is enabled.
package irq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// Line is one opened interrupt source.
type Line interface {
	// Wait blocks until the next event and returns the running event count.
	Wait(ctx context.Context) (uint32, error)
	Enable() error
	Disable() error
	Close() error
}

// Source opens lines by interrupt number.
type Source interface {
	Name() string
	Open(irq int) (Line, error)
}

// Source kinds accepted by NewSource.
const (
	KindUIO  = "uio"
	KindSoft = "soft"
)

// DefaultUIOPattern locates the UIO device for an interrupt number.
const DefaultUIOPattern = "/dev/uio%d"

// NewSource returns the source called kind.
func NewSource(kind, pattern string) (Source, error) {
	switch kind {
	case KindUIO:
		if pattern == "" {
			pattern = DefaultUIOPattern
		}
		return &UIO{Pattern: pattern}, nil
	case KindSoft, "":
		return NewSoft(), nil
	default:
		return nil, fmt.Errorf("irq source %q: %w", kind, errs.ErrUnsupported)
	}
}

// UIO opens Linux userspace I/O devices. Reading a device blocks until an
// interrupt and yields the 4-byte event count; writing 1 or 0 unmasks or
// masks the interrupt.
type UIO struct {
	Pattern string
}

func (u *UIO) Name() string { return KindUIO }

func (u *UIO) Open(irq int) (Line, error) {
	name := fmt.Sprintf(u.Pattern, irq)
	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &uioLine{f: f}, nil
}

type uioLine struct {
	f *os.File
}

func (l *uioLine) Wait(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var buf [4]byte
	if _, err := l.f.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(buf[:]), nil
}

func (l *uioLine) control(v uint32) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], v)
	_, err := l.f.Write(buf[:])
	return err
}

func (l *uioLine) Enable() error  { return l.control(1) }
func (l *uioLine) Disable() error { return l.control(0) }
func (l *uioLine) Close() error   { return l.f.Close() }

// ErrLineClosed is returned by Wait after Close.
var ErrLineClosed = errors.New("irq line closed")

// Soft is a software interrupt source.
type Soft struct {
	mu    sync.Mutex
	lines map[int]*softLine
}

// NewSoft creates a soft source with no open lines.
func NewSoft() *Soft {
	return &Soft{lines: make(map[int]*softLine)}
}

func (s *Soft) Name() string { return KindSoft }

func (s *Soft) Open(irq int) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[irq]; ok {
		return nil, fmt.Errorf("soft irq %d: %w", irq, errs.ErrAlreadySet)
	}
	l := &softLine{
		events: make(chan uint32, 64),
		closed: make(chan struct{}),
		onClose: func() {
			s.mu.Lock()
			delete(s.lines, irq)
			s.mu.Unlock()
		},
	}
	s.lines[irq] = l
	return l, nil
}

// Raise fires an event on irq. Events beyond the line's buffer are counted
// but not delivered separately.
func (s *Soft) Raise(irq int) error {
	s.mu.Lock()
	l, ok := s.lines[irq]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("soft irq %d: %w", irq, errs.ErrInvalidHandle)
	}
	l.mu.Lock()
	l.count++
	n := l.count
	l.mu.Unlock()
	select {
	case l.events <- n:
	default:
	}
	return nil
}

type softLine struct {
	mu      sync.Mutex
	count   uint32
	events  chan uint32
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

func (l *softLine) Wait(ctx context.Context) (uint32, error) {
	select {
	case n := <-l.events:
		return n, nil
	case <-l.closed:
		return 0, ErrLineClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *softLine) Enable() error  { return nil }
func (l *softLine) Disable() error { return nil }

func (l *softLine) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.onClose()
	})
	return nil
}

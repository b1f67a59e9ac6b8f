// Package latency measures scheduling jitter with a periodic probe task.
//
// The probe records, for every cycle, how far the actual interval between
// two releases strayed from the period. Samples live in a shared memory
// segment so another process can attach by key and read them while the
// probe runs.
package latency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/scheduler"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
	"github.com/GriffinCanCode/rtapi/internal/shmem"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultKey     = 0x4C415450
	DefaultPeriod  = int64(1_000_000)
	DefaultSamples = 4096
)

const (
	segmentMagic = 0x4C415453
	headerSize   = 32
)

// ErrBadSegment is returned when a segment does not hold probe samples.
var ErrBadSegment = errors.New("not a latency segment")

// header is the start of the sample segment. Samples follow it as int64
// nanoseconds, written as a ring indexed by count modulo capacity.
type header struct {
	Magic    uint32
	Capacity uint32
	Period   int64
	Count    uint64
	_        uint64
}

// Options configures a probe.
type Options struct {
	Key     int
	Period  int64
	Samples int
	// Prio defaults to the flavor's highest priority.
	Prio *int
}

// Probe is a running latency task.
type Probe struct {
	reg   *registry.Registry
	mem   *shmem.Manager
	sched *scheduler.Scheduler

	module types.ModuleID
	task   types.TaskID
	seg    types.ShmemID
	period int64
	hdr    *header
	ring   []int64
}

// Start registers the probe module, maps its segment and starts the task.
// When the clock is already running its period is used instead of
// opts.Period.
func Start(reg *registry.Registry, mem *shmem.Manager, sched *scheduler.Scheduler, opts Options) (*Probe, error) {
	if opts.Key == 0 {
		opts.Key = DefaultKey
	}
	if opts.Period == 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Samples <= 0 {
		opts.Samples = DefaultSamples
	}
	prio := sched.PrioHighest()
	if opts.Prio != nil {
		prio = *opts.Prio
	}

	module, err := reg.ModuleInit("latency", types.KernelResident)
	if err != nil {
		return nil, fmt.Errorf("latency module: %w", err)
	}
	p := &Probe{reg: reg, mem: mem, sched: sched, module: module}

	if err := p.start(opts, prio); err != nil {
		_ = reg.ModuleExit(module)
		return nil, err
	}
	return p, nil
}

func (p *Probe) start(opts Options, prio int) error {
	period, err := p.sched.ClockSetPeriod(opts.Period)
	if errors.Is(err, errs.ErrAlreadySet) {
		period, err = p.sched.ClockSetPeriod(0)
	}
	if err != nil {
		return fmt.Errorf("latency clock: %w", err)
	}
	p.period = period

	p.seg, err = p.mem.New(opts.Key, p.module, headerSize+8*opts.Samples)
	if err != nil {
		return fmt.Errorf("latency segment: %w", err)
	}
	buf, err := p.mem.GetPtr(p.seg)
	if err != nil {
		return fmt.Errorf("latency segment: %w", err)
	}
	p.hdr, p.ring, err = layout(buf)
	if errors.Is(err, ErrBadSegment) {
		p.hdr = (*header)(unsafe.Pointer(&buf[0]))
		p.hdr.Capacity = uint32(opts.Samples)
		p.hdr.Period = period
		atomic.StoreUint64(&p.hdr.Count, 0)
		atomic.StoreUint32(&p.hdr.Magic, segmentMagic)
		p.hdr, p.ring, err = layout(buf)
	}
	if err != nil {
		return err
	}

	p.task, err = p.sched.TaskNew(p.body, nil, prio, p.module, scheduler.MinStackSize, false)
	if err != nil {
		return fmt.Errorf("latency task: %w", err)
	}
	if err := p.sched.TaskStart(p.task, period); err != nil {
		return fmt.Errorf("latency task: %w", err)
	}
	p.reg.Bus().Infof("RTAPI: latency probe running, period %d ns, %d samples at key %#08x", period, len(p.ring), opts.Key)
	return nil
}

func (p *Probe) body(ctx context.Context, _ any) {
	last := p.sched.GetTime()
	for {
		p.sched.Wait(ctx)
		now := p.sched.GetTime()
		p.record(now - last - p.period)
		last = now
	}
}

func (p *Probe) record(jitter int64) {
	n := atomic.AddUint64(&p.hdr.Count, 1) - 1
	atomic.StoreInt64(&p.ring[n%uint64(len(p.ring))], jitter)
}

// Task returns the probe's task id.
func (p *Probe) Task() types.TaskID { return p.task }

// Period returns the probe period in nanoseconds.
func (p *Probe) Period() int64 { return p.period }

// Samples copies the recorded samples, oldest first.
func (p *Probe) Samples() []int64 { return collect(p.hdr, p.ring) }

// Summary summarizes the recorded samples.
func (p *Probe) Summary() Summary { return Summarize(p.Samples()) }

// Stop deletes the task and then exits the probe module, which releases
// the segment.
func (p *Probe) Stop() error {
	err := p.sched.TaskDelete(p.task)
	return errors.Join(err, p.reg.ModuleExit(p.module))
}

// Read copies the samples out of a mapped probe segment.
func Read(buf []byte) ([]int64, error) {
	hdr, ring, err := layout(buf)
	if err != nil {
		return nil, err
	}
	return collect(hdr, ring), nil
}

func layout(buf []byte) (*header, []int64, error) {
	if len(buf) < headerSize {
		return nil, nil, ErrBadSegment
	}
	hdr := (*header)(unsafe.Pointer(&buf[0]))
	if atomic.LoadUint32(&hdr.Magic) != segmentMagic || hdr.Capacity == 0 {
		return nil, nil, ErrBadSegment
	}
	if headerSize+8*int(hdr.Capacity) > len(buf) {
		return nil, nil, fmt.Errorf("capacity %d: %w", hdr.Capacity, errs.ErrSizeMismatch)
	}
	ring := unsafe.Slice((*int64)(unsafe.Pointer(&buf[headerSize])), hdr.Capacity)
	return hdr, ring, nil
}

func collect(hdr *header, ring []int64) []int64 {
	count := atomic.LoadUint64(&hdr.Count)
	size := uint64(len(ring))
	n := min(count, size)
	out := make([]int64, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, atomic.LoadInt64(&ring[i%size]))
	}
	return out
}

package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/rtapi/internal/clock/clocktest"
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/flavor"
	"github.com/GriffinCanCode/rtapi/internal/infrastructure/logging"
	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/scheduler"
	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
	"github.com/GriffinCanCode/rtapi/internal/shm"
	"github.com/GriffinCanCode/rtapi/internal/shmem"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int64
		expected Summary
	}{
		{name: "empty", expected: Summary{}},
		{name: "single", samples: []int64{-5}, expected: Summary{Count: 1, Min: -5, Max: -5, Mean: -5, P99: -5}},
		{name: "spread", samples: []int64{2, 4, 4, 4, 5, 5, 7, 9}, expected: Summary{Count: 8, Min: 2, Max: 9, Mean: 5, P99: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.samples)
			assert.Equal(t, tt.expected.Count, s.Count)
			assert.Equal(t, tt.expected.Min, s.Min)
			assert.Equal(t, tt.expected.Max, s.Max)
			assert.InDelta(t, tt.expected.Mean, s.Mean, 1e-9)
			assert.Equal(t, tt.expected.P99, s.P99)
		})
	}

	s := Summarize([]int64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 2.138, s.StdDev, 1e-3)
	assert.Equal(t, 9*time.Nanosecond, s.WorstAbs())
	assert.Equal(t, 12*time.Nanosecond, Summarize([]int64{-12, 3}).WorstAbs())
	assert.Contains(t, s.String(), "n=8")
}

func TestReadRejectsForeignSegments(t *testing.T) {
	_, err := Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrBadSegment)

	_, err = Read(make([]byte, 256))
	assert.ErrorIs(t, err, ErrBadSegment)
}

func TestProbeRecordsIntoSharedSegment(t *testing.T) {
	bus := message.NewBus(logging.NewNop(), message.Info)
	backend := shm.NewHeap()
	reg, err := registry.Attach(backend, bus, registry.Options{RTCPU: -1})
	require.NoError(t, err)
	mem := shmem.NewManager(reg, backend)
	fl, err := flavor.New(flavor.PosixName, bus)
	require.NoError(t, err)
	sched := scheduler.New(reg, fl, clocktest.NewFake(0), exception.NewReporter(bus, registry.MaxTasks, 0))
	t.Cleanup(func() {
		sched.Close()
		_ = reg.Detach()
	})

	p, err := Start(reg, mem, sched, Options{Key: 0x1701, Period: 500_000, Samples: 16})
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), p.Period())

	assert.Eventually(t, func() bool { return len(p.Samples()) == 16 }, 2*time.Second, time.Millisecond)

	// The fake clock lands exactly on every release.
	s := p.Summary()
	assert.Equal(t, 16, s.Count)
	assert.Zero(t, s.Min)
	assert.Zero(t, s.Max)

	// A second module attaching by key sees the same samples.
	viewer, err := reg.ModuleInit("viewer", types.UserSpace)
	require.NoError(t, err)
	id, err := mem.New(0x1701, viewer, 64)
	require.NoError(t, err)
	buf, err := mem.GetPtr(id)
	require.NoError(t, err)
	samples, err := Read(buf)
	require.NoError(t, err)
	assert.Len(t, samples, 16)

	_, err = mem.New(0x1701, viewer, 64)
	assert.ErrorIs(t, err, errs.ErrAlreadyMapped)

	require.NoError(t, p.Stop())
	assert.Equal(t, int32(1), reg.Snapshot().Header.ModuleCount)
	require.NoError(t, reg.ModuleExit(viewer))
	assert.Zero(t, reg.Snapshot().Header.ShmemCount)
}

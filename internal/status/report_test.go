package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/scheduler"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

func TestBuild(t *testing.T) {
	var d registry.Data
	d.Header.Attached = 2
	d.Header.TimerRunning = 1
	d.Header.TimerPeriod = 1_000_000
	d.Header.ModuleCount = 1
	d.Modules[3] = registry.ModuleRecord{Kind: types.KernelResident, PID: 42}
	copy(d.Modules[3].Name[:], "servo")
	d.Shmems[1] = registry.ShmemRecord{Key: 0x1234, Size: 4096, RTUsers: 1, ULUsers: 1}
	d.Shmems[1].Holders.Set(3)
	d.Shmems[2] = registry.ShmemRecord{Key: 0x99, Size: 64}
	d.Fifos[1] = registry.FifoRecord{Key: 7, State: registry.FifoHasReader, Reader: 3, Size: 128}
	d.IRQs[4] = registry.IRQRecord{IRQ: 9, Owner: 3}

	tasks := []scheduler.TaskInfo{{
		ID: 1, Owner: 3, State: types.TaskPeriodic, Period: 1_000_000, Local: true,
		Status: exception.Status{NumUpdates: 12, Flavor: exception.KernelStats{Overruns: 1}},
	}}

	r := Build(&d, tasks, Meta{Instance: "id", PID: 42, Flavor: "kernel", Shm: "heap"})

	assert.True(t, r.Clock.Running)
	assert.Equal(t, int32(2), r.Attached)
	assert.Equal(t, 1, r.Counts["module"])
	require.Len(t, r.Modules, 1)
	assert.Equal(t, Module{ID: 3, Name: "servo", Kind: types.KernelResident.String(), PID: 42}, r.Modules[0])
	require.Len(t, r.Tasks, 1)
	assert.Equal(t, "periodic", r.Tasks[0].State)
	assert.Equal(t, int64(12), r.Tasks[0].Cycles)
	assert.Equal(t, exception.KernelStats{Overruns: 1}, r.Tasks[0].Stats)
	require.Len(t, r.Shmems, 2)
	assert.Equal(t, []int{3}, r.Shmems[0].Holders)
	assert.Equal(t, int64(4160), r.ShmemBytes())
	require.Len(t, r.Fifos, 1)
	assert.Equal(t, []IRQ{{IRQ: 9, Owner: 3}}, r.IRQs)
	assert.Empty(t, r.Sems)
}

// Package status builds the read-only view of a runtime served by the
// status API and printed by rtapid show.
package status

import (
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/scheduler"
)

// Report is a point-in-time view of the registry and this process's tasks.
type Report struct {
	Instance string         `json:"instance"`
	PID      int32          `json:"pid"`
	Flavor   string         `json:"flavor"`
	Shm      string         `json:"shm"`
	Attached int32          `json:"attached"`
	Clock    Clock          `json:"clock"`
	Counts   map[string]int `json:"counts"`
	Modules  []Module       `json:"modules"`
	Tasks    []Task         `json:"tasks"`
	Shmems   []Shmem        `json:"shmems"`
	Sems     []Sem          `json:"sems"`
	Fifos    []Fifo         `json:"fifos"`
	IRQs     []IRQ          `json:"irqs"`
}

// Clock describes the base timer.
type Clock struct {
	Running    bool  `json:"running"`
	PeriodNs   int64 `json:"period_ns"`
	MaxDelayNs int64 `json:"max_delay_ns"`
	RTCPU      int32 `json:"rt_cpu"`
}

type Module struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
	PID  int32  `json:"pid"`
}

type Task struct {
	ID          int                   `json:"id"`
	Owner       int                   `json:"owner"`
	State       string                `json:"state"`
	Prio        int                   `json:"prio"`
	CPU         int                   `json:"cpu"`
	PeriodNs    int64                 `json:"period_ns"`
	StackSize   int                   `json:"stack_size"`
	UsesFP      bool                  `json:"uses_fp"`
	Local       bool                  `json:"local"`
	Cycles      int64                 `json:"cycles"`
	APIErrors   int64                 `json:"api_errors"`
	OtherErrors int64                 `json:"other_errors"`
	Stats       exception.FlavorStats `json:"stats,omitempty"`
}

type Shmem struct {
	ID      int   `json:"id"`
	Key     int32 `json:"key"`
	Size    int64 `json:"size"`
	RTUsers int32 `json:"rt_users"`
	ULUsers int32 `json:"ul_users"`
	Holders []int `json:"holders"`
}

type Sem struct {
	ID      int   `json:"id"`
	Key     int32 `json:"key"`
	Users   int32 `json:"users"`
	Holders []int `json:"holders"`
}

type Fifo struct {
	ID     int   `json:"id"`
	Key    int32 `json:"key"`
	Size   int64 `json:"size"`
	Reader int32 `json:"reader"`
	Writer int32 `json:"writer"`
}

type IRQ struct {
	IRQ   int32 `json:"irq"`
	Owner int32 `json:"owner"`
}

// Meta carries the process-level fields of a report.
type Meta struct {
	Instance string
	PID      int32
	Flavor   string
	Shm      string
}

// Build assembles a report from a registry snapshot and the scheduler's
// task list.
func Build(d *registry.Data, tasks []scheduler.TaskInfo, meta Meta) Report {
	r := Report{
		Instance: meta.Instance,
		PID:      meta.PID,
		Flavor:   meta.Flavor,
		Shm:      meta.Shm,
		Attached: d.Header.Attached,
		Clock: Clock{
			Running:    d.Header.TimerRunning != 0,
			PeriodNs:   d.Header.TimerPeriod,
			MaxDelayNs: d.Header.MaxDelay,
			RTCPU:      d.Header.RTCPU,
		},
		Counts: map[string]int{
			registry.Modules.String(): int(d.Header.ModuleCount),
			registry.Tasks.String():   int(d.Header.TaskCount),
			registry.Shmems.String():  int(d.Header.ShmemCount),
			registry.Sems.String():    int(d.Header.SemCount),
			registry.Fifos.String():   int(d.Header.FifoCount),
			registry.IRQs.String():    int(d.Header.IRQCount),
		},
	}

	for n := 1; n <= registry.MaxModules; n++ {
		if m := &d.Modules[n]; d.Live(registry.Modules, n) {
			r.Modules = append(r.Modules, Module{ID: n, Name: m.NameString(), Kind: m.Kind.String(), PID: m.PID})
		}
	}
	for _, t := range tasks {
		r.Tasks = append(r.Tasks, Task{
			ID:          int(t.ID),
			Owner:       int(t.Owner),
			State:       t.State.String(),
			Prio:        t.Prio,
			CPU:         t.CPU,
			PeriodNs:    t.Period,
			StackSize:   t.StackSize,
			UsesFP:      t.UsesFP,
			Local:       t.Local,
			Cycles:      t.Status.NumUpdates,
			APIErrors:   t.Status.APIErrors,
			OtherErrors: t.Status.OtherErrors,
			Stats:       t.Status.Flavor,
		})
	}
	for n := 1; n <= registry.MaxShmems; n++ {
		if s := &d.Shmems[n]; d.Live(registry.Shmems, n) {
			r.Shmems = append(r.Shmems, Shmem{
				ID: n, Key: s.Key, Size: s.Size,
				RTUsers: s.RTUsers, ULUsers: s.ULUsers,
				Holders: s.Holders.Members(),
			})
		}
	}
	for n := 1; n <= registry.MaxSems; n++ {
		if s := &d.Sems[n]; d.Live(registry.Sems, n) {
			r.Sems = append(r.Sems, Sem{ID: n, Key: s.Key, Users: s.Users, Holders: s.Holders.Members()})
		}
	}
	for n := 1; n <= registry.MaxFifos; n++ {
		if f := &d.Fifos[n]; d.Live(registry.Fifos, n) {
			r.Fifos = append(r.Fifos, Fifo{ID: n, Key: f.Key, Size: f.Size, Reader: f.Reader, Writer: f.Writer})
		}
	}
	for n := 1; n <= registry.MaxIRQs; n++ {
		if q := d.IRQs[n]; d.Live(registry.IRQs, n) {
			r.IRQs = append(r.IRQs, IRQ{IRQ: q.IRQ, Owner: q.Owner})
		}
	}
	return r
}

// ShmemBytes sums the size of every live segment.
func (r *Report) ShmemBytes() int64 {
	var n int64
	for _, s := range r.Shmems {
		n += s.Size
	}
	return n
}

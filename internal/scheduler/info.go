package scheduler

import (
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/registry"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// TaskInfo is a read-only view of one task.
type TaskInfo struct {
	ID        types.TaskID
	Owner     types.ModuleID
	State     types.TaskState
	Prio      int
	CPU       int
	Period    int64
	StackSize int
	UsesFP    bool
	// Local is set when the task runs in this process.
	Local  bool
	Status exception.Status
}

// Tasks lists every live task slot.
func (s *Scheduler) Tasks() []TaskInfo {
	var out []TaskInfo
	_ = s.reg.With(func(d *registry.Data) error {
		for n := 1; n <= registry.MaxTasks; n++ {
			if !d.Live(registry.Tasks, n) {
				continue
			}
			rec := d.Tasks[n]
			out = append(out, TaskInfo{
				ID:        types.TaskID(n),
				Owner:     types.ModuleID(rec.Owner),
				State:     rec.State,
				Prio:      int(rec.Prio),
				CPU:       int(rec.CPU),
				Period:    rec.Period,
				StackSize: int(rec.StackSize),
				UsesFP:    rec.UsesFP != 0,
				Local:     rec.PID == s.reg.PID(),
			})
		}
		return nil
	})
	for i := range out {
		if st := s.rep.Status(out[i].ID); st != nil {
			out[i].Status = st.Snapshot()
		}
	}
	return out
}

// Status returns the statistics of a task slot.
func (s *Scheduler) Status(id types.TaskID) (exception.Status, bool) {
	st := s.rep.Status(id)
	if st == nil || id < 1 {
		return exception.Status{}, false
	}
	return st.Snapshot(), true
}

package exception

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/rtapi/internal/message"
	"github.com/GriffinCanCode/rtapi/internal/shared/types"
)

// DefaultMaxErrors is how many anomaly messages the default handler prints
// before going quiet.
const DefaultMaxErrors = 10

// Handler receives every reported anomaly.
//
// A handler runs on the reporting task's thread, often inside its cycle.
// It must not block and should not allocate; it may read the status and
// record or forward the event. Details are only valid during the call.
type Handler func(kind Kind, task types.TaskID, detail Detail, status *ThreadStatus)

// Observer is notified of every report before the handler runs. Observers
// follow the same rules as handlers.
type Observer func(kind Kind, task types.TaskID)

// Reporter owns the per-slot statistics and the installed handler.
type Reporter struct {
	bus       *message.Bus
	maxErrors int64
	status    []ThreadStatus

	handler atomic.Pointer[Handler]

	obsMu     sync.Mutex
	observers atomic.Pointer[[]Observer]

	printed atomic.Int64
}

// NewReporter creates a reporter with one ThreadStatus per task slot,
// slot 0 included. maxErrors <= 0 selects DefaultMaxErrors.
func NewReporter(bus *message.Bus, slots, maxErrors int) *Reporter {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Reporter{
		bus:       bus,
		maxErrors: int64(maxErrors),
		status:    make([]ThreadStatus, slots+1),
	}
}

// Status returns the statistics of a task slot, or nil when out of range.
func (r *Reporter) Status(task types.TaskID) *ThreadStatus {
	if task < 0 || int(task) >= len(r.status) {
		return nil
	}
	return &r.status[task]
}

// SetHandler installs h. A nil h restores the default logging handler.
func (r *Reporter) SetHandler(h Handler) {
	if h == nil {
		r.handler.Store(nil)
		return
	}
	r.handler.Store(&h)
}

// Handler returns the active handler.
func (r *Reporter) Handler() Handler {
	if h := r.handler.Load(); h != nil {
		return *h
	}
	return r.Default
}

// Observe adds an observer.
func (r *Reporter) Observe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	var next []Observer
	if cur := r.observers.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, o)
	r.observers.Store(&next)
}

// Report records an anomaly for task and dispatches it.
func (r *Reporter) Report(kind Kind, task types.TaskID, detail Detail) {
	st := r.Status(task)
	if st != nil {
		switch kind {
		case ApiMisuse, PermissionDenied:
			st.apiErrors.Add(1)
		case DeadlineMissed:
		default:
			st.otherErrors.Add(1)
		}
	}
	if obs := r.observers.Load(); obs != nil {
		for _, o := range *obs {
			o(kind, task)
		}
	}
	r.Handler()(kind, task, detail, st)
}

// Default logs the anomaly. The first message is an error, the next ones up
// to the cap are warnings, one more notes the suppression, and the rest are
// dropped.
func (r *Reporter) Default(kind Kind, task types.TaskID, detail Detail, _ *ThreadStatus) {
	n := r.printed.Add(1)
	switch {
	case n == 1:
		r.bus.Errorf("RTAPI: ERROR: %s on task %02d: %v", describe(kind), task, detail)
	case n <= r.maxErrors:
		r.bus.Warnf("RTAPI: WARNING: %s on task %02d: %v", describe(kind), task, detail)
	case n == r.maxErrors+1:
		r.bus.Warnf("RTAPI: (further exception messages will be suppressed)")
	}
}

// ResetBackoff re-enables default handler output.
func (r *Reporter) ResetBackoff() { r.printed.Store(0) }

func describe(kind Kind) string {
	switch kind {
	case DeadlineMissed:
		return "Unexpected realtime delay"
	case ApiMisuse:
		return "API misuse"
	case Interrupted:
		return "Wait interrupted"
	case PermissionDenied:
		return "Wait from non-realtime context"
	case TrapOrFault:
		return "Fault"
	default:
		return "Unclassified exception"
	}
}

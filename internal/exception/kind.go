// Package exception classifies realtime anomalies and keeps per-task
// statistics.
//
// Anomalies never travel back to the task as errors. The scheduler reports
// them here; the Reporter updates the task's ThreadStatus, notifies
// observers, and hands the event to a single replaceable handler.
package exception

import "fmt"

// Kind is the closed set of anomaly classes.
type Kind int

const (
	DeadlineMissed Kind = iota + 1
	ApiMisuse
	Interrupted
	PermissionDenied
	TrapOrFault
	Unclassified
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{DeadlineMissed, ApiMisuse, Interrupted, PermissionDenied, TrapOrFault, Unclassified}

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case DeadlineMissed:
		return "deadline_missed"
	case ApiMisuse:
		return "api_misuse"
	case Interrupted:
		return "interrupted"
	case PermissionDenied:
		return "permission_denied"
	case TrapOrFault:
		return "trap_or_fault"
	case Unclassified:
		return "unclassified"
	default:
		return "unknown"
	}
}

// Detail carries kind-specific context. The concrete types below are the
// only implementations.
type Detail interface {
	detail()
	fmt.Stringer
}

// Miss describes a late cycle. It is reported as *Miss pointing at storage
// owned by the task, so handlers must copy it to keep it past the call.
type Miss struct {
	Release int64 // release point that was missed, ns
	Now     int64 // time Wait observed, ns
	Period  int64
	Skipped int64 // release points passed over
}

// Misuse describes an API call made in the wrong state.
type Misuse struct {
	Op    string
	State string
}

// Trap describes a fault recovered from a task body.
type Trap struct {
	Value any
}

// Note is free-form context for the remaining kinds.
type Note struct {
	Text string
}

func (*Miss) detail()  {}
func (Misuse) detail() {}
func (Trap) detail()   {}
func (Note) detail()   {}

func (m *Miss) String() string {
	return fmt.Sprintf("release %d missed by %d ns (%d periods skipped)", m.Release, m.Now-m.Release, m.Skipped)
}

func (m Misuse) String() string { return fmt.Sprintf("%s while %s", m.Op, m.State) }

func (t Trap) String() string { return fmt.Sprintf("fault: %v", t.Value) }

func (n Note) String() string { return n.Text }

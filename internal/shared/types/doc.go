// Package types provides the handle and enum types shared by the RTAPI
// components.
//
// Core Types:
//   - ModuleID, TaskID, ShmemID, SemID, FifoID: small integer handles, reused
//     after release, zero is never a valid handle
//   - ModuleKind: which side of the realtime boundary a module lives on
//   - TaskState: the task state machine
//
// Example Usage:
//
//	if kind == types.KernelResident {
//	    // realtime-side reference counting applies
//	}
package types

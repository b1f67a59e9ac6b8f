// Package http implements the read-only JSON status API of a runtime and
// its Prometheus endpoint.
//
// Routes:
//
//	GET /              service identity
//	GET /health        registry attachment and clock state
//	GET /status        full report
//	GET /modules       registered modules
//	GET /tasks         live tasks with statistics
//	GET /tasks/:id     one task
//	GET /shmem         shared memory segments
//	GET /ipc           semaphores, FIFOs and interrupt lines
//	GET /metrics       Prometheus exposition
//	GET /metrics/json  request and exception totals
package http

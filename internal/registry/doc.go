// Package registry holds the fixed-capacity resource tables shared by every
// process attached to the layer.
//
// The tables live in one shared memory block keyed by the reserved Key and
// laid out as a header followed by fixed-size arrays of fixed-size records
// (modules, tasks, shmem segments, semaphores, FIFOs, interrupt lines).
// Slot 0 of every table is unused so that 0 is never a valid handle.
//
// Components:
//   - Registry: attach/detach of the block, the global mutex, module records
//   - Data: the block layout itself, with per-table allocate/release/lookup
//   - Bitmap: fixed-size module-id set used for shared references
//
// Every mutation happens inside Registry.With, which holds the single global
// mutex for the duration of an array scan and a few field writes. Nothing in
// this package blocks while holding it.
//
// Example Usage:
//
//	reg, err := registry.Attach(backend, bus, registry.Options{})
//	id, err := reg.ModuleInit("motion", types.KernelResident)
//	defer reg.Detach()
package registry

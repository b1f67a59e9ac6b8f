// Package shm maps integer-keyed OS memory objects.
//
// A Backend knows how to create, attach to, detach from and destroy the
// object behind a key. It does not count references and never clears memory
// on its own; lifetime and first-touch zeroing are decided by the callers
// (the registry for its own block, the shmem manager for segments).
//
// Backends:
//   - heap:  process-local memory, one store shared by every runtime built
//     from the same Heap value; models kernel memory and backs tests
//   - posix: files in a tmpfs directory (default /dev/shm) mapped MAP_SHARED
//   - sysv:  System V segments addressed directly by the key
package shm

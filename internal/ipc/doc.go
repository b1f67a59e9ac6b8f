// Package ipc provides keyed semaphores and byte FIFOs for communication
// between modules.
//
// Both are recorded in the shared registry so that every attached process
// agrees on ids, keys and holders. Semaphore counts are kept per process.
// FIFO bytes live in a shared memory object so a reader and a writer in
// different processes see the same stream.
package ipc

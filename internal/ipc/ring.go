package ipc

import (
	"sync/atomic"
	"unsafe"
)

const (
	ringMagic  = 0x46494630 // "FIF0"
	ringHeader = 64
)

// ringHead sits at the start of a FIFO's shared object. head counts bytes
// read and tail bytes written; both only grow.
type ringHead struct {
	magic uint64
	size  uint64
	head  uint64
	tail  uint64
}

// ring is a single-producer single-consumer byte ring over shared memory.
type ring struct {
	h    *ringHead
	data []byte
}

// ringBytes is the object size needed for a ring of size bytes.
func ringBytes(size int) int { return ringHeader + size }

// attachRing overlays a ring on buf, initializing it when init is set.
func attachRing(buf []byte, size int, init bool) *ring {
	r := &ring{
		h:    (*ringHead)(unsafe.Pointer(&buf[0])),
		data: buf[ringHeader : ringHeader+size],
	}
	if init {
		atomic.StoreUint64(&r.h.head, 0)
		atomic.StoreUint64(&r.h.tail, 0)
		atomic.StoreUint64(&r.h.size, uint64(size))
		atomic.StoreUint64(&r.h.magic, ringMagic)
	}
	return r
}

// Len returns the number of unread bytes.
func (r *ring) Len() int {
	return int(atomic.LoadUint64(&r.h.tail) - atomic.LoadUint64(&r.h.head))
}

// Write copies as much of p as fits and returns the count.
func (r *ring) Write(p []byte) int {
	size := uint64(len(r.data))
	head := atomic.LoadUint64(&r.h.head)
	tail := atomic.LoadUint64(&r.h.tail)
	free := size - (tail - head)
	n := uint64(len(p))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	off := tail % size
	first := copy(r.data[off:], p[:n])
	copy(r.data, p[first:n])
	atomic.StoreUint64(&r.h.tail, tail+n)
	return int(n)
}

// Read copies up to len(p) unread bytes into p and returns the count.
func (r *ring) Read(p []byte) int {
	size := uint64(len(r.data))
	head := atomic.LoadUint64(&r.h.head)
	tail := atomic.LoadUint64(&r.h.tail)
	n := tail - head
	if uint64(len(p)) < n {
		n = uint64(len(p))
	}
	if n == 0 {
		return 0
	}
	off := head % size
	first := copy(p[:n], r.data[off:])
	copy(p[first:n], r.data)
	atomic.StoreUint64(&r.h.head, head+n)
	return int(n)
}

package shm

import (
	"fmt"
	"io/fs"
	"sync"

	"github.com/GriffinCanCode/rtapi/internal/shared/errs"
)

// Heap keeps objects in process memory. Every mapping of a key returns the
// same backing slice, so addresses compare equal across attaches.
type Heap struct {
	mu      sync.Mutex
	objects map[int][]byte
}

// NewHeap creates an empty heap store.
func NewHeap() *Heap {
	return &Heap{objects: make(map[int][]byte)}
}

func (h *Heap) Name() string { return KindHeap }

func (h *Heap) Map(key, size int, create bool) (*Mapping, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, ok := h.objects[key]
	if !ok {
		if !create {
			return nil, fmt.Errorf("heap object %#x: %w", key, fs.ErrNotExist)
		}
		data = make([]byte, size)
		h.objects[key] = data
	}
	if len(data) < size {
		return nil, fmt.Errorf("heap object %#x holds %d bytes, need %d: %w", key, len(data), size, errs.ErrSizeMismatch)
	}
	return &Mapping{Key: key, Data: data[:size:size]}, nil
}

func (h *Heap) Unmap(m *Mapping) error {
	if m != nil {
		m.Data = nil
	}
	return nil
}

func (h *Heap) Destroy(key int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.objects[key]; !ok {
		return fmt.Errorf("heap object %#x: %w", key, fs.ErrNotExist)
	}
	delete(h.objects, key)
	return nil
}

// Len returns how many objects the store holds.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

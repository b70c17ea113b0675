// Package memory hands out the stack and thread-local regions an agent needs
// before it starts. Regions are never returned: agents live for the whole
// process, and so does their memory.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Align is the byte alignment every region size is rounded up to.
const Align = 16

// MaxRegionSize is the largest region an allocator will hand out.
const MaxRegionSize = 1 << 30

var (
	ErrOutOfMemory      = errors.New("memory: allocation limit exceeded")
	ErrInvalidSize      = errors.New("memory: invalid region size")
	ErrUnknownAllocator = errors.New("memory: unknown allocator")
)

// Region is a block of memory owned by one agent.
type Region struct {
	Data []byte
}

// Len returns the size of the region in bytes.
func (r Region) Len() int { return len(r.Data) }

// Allocator provisions regions.
type Allocator interface {
	Alloc(size int) (Region, error)
}

// HeapAllocator allocates regions on the Go heap. A positive Limit caps the
// total number of bytes it will ever hand out.
type HeapAllocator struct {
	Limit int64

	mu        sync.Mutex
	allocated int64
}

// Alloc returns a zeroed region of at least size bytes.
func (h *HeapAllocator) Alloc(size int) (Region, error) {
	n, err := alignedSize(size)
	if err != nil {
		return Region{}, err
	}
	if n == 0 {
		return Region{}, nil
	}

	h.mu.Lock()
	if h.Limit > 0 && h.allocated+int64(n) > h.Limit {
		used := h.allocated
		h.mu.Unlock()
		return Region{}, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrOutOfMemory, n, used, h.Limit)
	}
	h.allocated += int64(n)
	h.mu.Unlock()

	return Region{Data: make([]byte, n)}, nil
}

// Allocated reports the bytes handed out so far.
func (h *HeapAllocator) Allocated() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocated
}

// New selects an allocator by its configuration name.
func New(kind string, limit int64) (Allocator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "heap":
		return &HeapAllocator{Limit: limit}, nil
	case "mmap":
		return newMmapAllocator()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocator, kind)
	}
}

// alignedSize rounds size up to Align. Sizes outside [0, MaxRegionSize] are
// rejected before rounding, so the result never overflows.
func alignedSize(size int) (int, error) {
	if size < 0 || size > MaxRegionSize {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidSize, size, MaxRegionSize)
	}
	return (size + Align - 1) &^ (Align - 1), nil
}

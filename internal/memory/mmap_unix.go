//go:build unix

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator backs each region with an anonymous private mapping outside
// the Go heap.
type MmapAllocator struct{}

func newMmapAllocator() (Allocator, error) {
	return MmapAllocator{}, nil
}

// Alloc maps a fresh region of at least size bytes.
func (MmapAllocator) Alloc(size int) (Region, error) {
	n, err := alignedSize(size)
	if err != nil {
		return Region{}, err
	}
	if n == 0 {
		return Region{}, nil
	}
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Region{}, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, n, err)
	}
	return Region{Data: data}, nil
}

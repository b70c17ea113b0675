//go:build !unix

package memory

import "fmt"

func newMmapAllocator() (Allocator, error) {
	return nil, fmt.Errorf("%w: mmap is not supported on this platform", ErrUnknownAllocator)
}

package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapAllocatorRoundsToAlignment(t *testing.T) {
	h := &HeapAllocator{}

	r, err := h.Alloc(17)
	require.NoError(t, err)
	assert.Equal(t, 32, r.Len())
	assert.Equal(t, int64(32), h.Allocated())
}

func TestHeapAllocatorZeroSize(t *testing.T) {
	h := &HeapAllocator{}

	r, err := h.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestHeapAllocatorRejectsNegativeSize(t *testing.T) {
	h := &HeapAllocator{}

	_, err := h.Alloc(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestHeapAllocatorLimit(t *testing.T) {
	h := &HeapAllocator{Limit: 64}

	_, err := h.Alloc(48)
	require.NoError(t, err)

	_, err = h.Alloc(32)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, int64(48), h.Allocated(), "failed allocation must not be counted")

	_, err = h.Alloc(16)
	assert.NoError(t, err)
}

func TestHeapAllocatorRejectsOversizedRegions(t *testing.T) {
	tests := []struct {
		name    string
		limit   int64
		size    int
		wantErr error
	}{
		{"max int", 1 << 20, math.MaxInt, ErrInvalidSize},
		{"max int minus one alignment step", 1 << 20, math.MaxInt - (Align - 1), ErrInvalidSize},
		{"max int minus three", 1 << 20, math.MaxInt - 3, ErrInvalidSize},
		{"max int unlimited", 0, math.MaxInt, ErrInvalidSize},
		{"just above max region", 0, MaxRegionSize + 1, ErrInvalidSize},
		{"larger than limit", 1 << 20, 1<<20 + 1, ErrOutOfMemory},
		{"max region over limit", 1 << 20, MaxRegionSize, ErrOutOfMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HeapAllocator{Limit: tt.limit}

			var (
				r   Region
				err error
			)
			require.NotPanics(t, func() { r, err = h.Alloc(tt.size) })
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, r.Len())
			assert.Equal(t, int64(0), h.Allocated(), "rejected request must not be counted")
		})
	}
}

func TestAlignedSizeAtCeiling(t *testing.T) {
	n, err := alignedSize(MaxRegionSize)
	require.NoError(t, err)
	assert.Equal(t, MaxRegionSize, n)

	n, err = alignedSize(MaxRegionSize - 1)
	require.NoError(t, err)
	assert.Equal(t, MaxRegionSize, n)
	assert.Positive(t, n)
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"", false},
		{"heap", false},
		{"HEAP", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			a, err := New(tt.kind, 0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownAllocator)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, a)
		})
	}
}

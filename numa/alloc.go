package numa

import "unsafe"

// Allocator hands out memory placed on a NUMA node. Memory returned by Alloc
// is zeroed, at least 8-byte aligned, and must be released with Free of the
// same allocator exactly once.
type Allocator interface {
	Alloc(size uintptr, node int) ([]byte, error)
	Free(mem []byte) error
}

// HeapAllocator allocates from the Go heap and ignores the node. Used when
// placement does not matter (tests, single-node hosts).
type HeapAllocator struct{}

// Alloc returns zeroed, 8-byte aligned heap memory.
func (HeapAllocator) Alloc(size uintptr, _ int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size), nil
}

// Free is a no-op; the garbage collector reclaims the memory.
func (HeapAllocator) Free([]byte) error { return nil }

// alloc_stub.go - Heap fallback where mmap(2)/mbind(2) placement is unavailable

//go:build !linux

package numa

// NodeAllocator falls back to the Go heap on this platform.
type NodeAllocator struct{ HeapAllocator }

// alloc_linux.go - Node-local anonymous mappings via mmap(2) + mbind(2)

//go:build linux

package numa

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"numastack/debug"
	"numastack/utils"
)

// mpolPreferred places pages on the node when it has free memory and falls
// back to others instead of failing the fault.
const mpolPreferred = 1

// NodeAllocator maps anonymous memory and binds it to a node with a
// preferred policy. Mappings are page granular and live outside the Go heap,
// so they may only hold pointer-free data.
type NodeAllocator struct{}

// Alloc maps size bytes (rounded up to a page) preferring node.
func (NodeAllocator) Alloc(size uintptr, node int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if node < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchNode, node)
	}
	length := utils.AlignUp(size, uintptr(unix.Getpagesize()))
	mem, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("numa: mmap %d bytes: %w", length, err)
	}

	if err := mbind(mem, node); err != nil {
		// Seccomp profiles and kernels without NUMA support reject mbind;
		// the mapping is still usable, just not placed.
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
			debug.Logger().Warn().Err(err).Int("node", node).Msg("mbind unavailable, memory not node-local")
		} else {
			_ = unix.Munmap(mem)
			return nil, fmt.Errorf("numa: mbind to node %d: %w", node, err)
		}
	}
	return mem[:size:length], nil
}

// Free unmaps memory returned by Alloc.
func (NodeAllocator) Free(mem []byte) error {
	if cap(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem[:cap(mem)])
}

func mbind(mem []byte, node int) error {
	mask := make([]uint64, node/64+1)
	mask[node/64] |= 1 << (uint(node) % 64)
	_, _, errno := unix.Syscall6(
		unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&mem[0])),
		uintptr(len(mem)),
		mpolPreferred,
		uintptr(unsafe.Pointer(&mask[0])),
		uintptr(len(mask)*64+1),
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

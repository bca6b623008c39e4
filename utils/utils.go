package utils

import (
	"fmt"
	"strconv"
	"strings"
)

///////////////////////////////////////////////////////////////////////////////
// Hash & Mixers — Seed Derivation
///////////////////////////////////////////////////////////////////////////////

// Mix64 applies a Murmur3-style avalanche to a 64-bit value.
// Used to derive independent per-thread PRNG seeds from thread ids.
//
//go:nosplit
//go:inline
func Mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

///////////////////////////////////////////////////////////////////////////////
// Layout Helpers
///////////////////////////////////////////////////////////////////////////////

// AlignUp rounds n up to the next multiple of align (a power of two).
//
//go:nosplit
//go:inline
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

///////////////////////////////////////////////////////////////////////////////
// Sysfs Parsing
///////////////////////////////////////////////////////////////////////////////

// ParseCPUList parses the kernel's cpulist format ("0-3,8,10-11") into an
// ascending list of CPU ids. Whitespace around the list is ignored.
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("cpulist %q: %w", s, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("cpulist %q: %w", s, err)
			}
		}
		if first < 0 || last < first {
			return nil, fmt.Errorf("cpulist %q: bad range %q", s, part)
		}
		for c := first; c <= last; c++ {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}

// affinity_linux.go - Linux thread affinity via sched_setaffinity(2)

//go:build linux

package numa

import (
	"golang.org/x/sys/unix"
)

// pin applies cpus as the calling thread's affinity mask and returns a
// function restoring the previous mask.
func pin(cpus []int) (func() error, error) {
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return nil, err
	}

	var set unix.CPUSet
	for _, c := range cpus {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, err
	}
	return func() error { return unix.SchedSetaffinity(0, &prev) }, nil
}

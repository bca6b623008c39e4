// affinity_stub.go - No-op thread affinity where sched_setaffinity(2) is unavailable

//go:build !linux

package numa

// pin is a no-op: the scheduler keeps placing the thread freely.
func pin(cpus []int) (func() error, error) {
	return func() error { return nil }, nil
}

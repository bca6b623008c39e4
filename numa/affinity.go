package numa

import (
	"fmt"
)

// AffinityError reports a failure to pin the calling thread to a node. It is
// fatal at startup: every locality decision downstream assumes it succeeded.
type AffinityError struct {
	Node int
	CPUs []int
	Err  error
}

func (e *AffinityError) Error() string {
	return fmt.Sprintf("numa: pin to node %d (cpus %v): %v", e.Node, e.CPUs, e.Err)
}

func (e *AffinityError) Unwrap() error { return e.Err }

// PinToNode restricts the calling OS thread to the CPUs of node. The caller
// must hold runtime.LockOSThread for the pin to mean anything, and must call
// the returned restore before unlocking so the thread goes back to the
// runtime with its original mask.
func (t *Topology) PinToNode(node int) (restore func() error, err error) {
	cpus, err := t.CPUsOf(node)
	if err != nil {
		return nil, &AffinityError{Node: node, Err: err}
	}
	restore, err = pin(cpus)
	if err != nil {
		return nil, &AffinityError{Node: node, CPUs: cpus, Err: err}
	}
	return restore, nil
}

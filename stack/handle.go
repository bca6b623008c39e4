package stack

import (
	"fmt"
	"runtime"

	"numastack/constants"
	"numastack/elimination"
	"numastack/exchanger"
	"numastack/fastrand"
	"numastack/numa"
	"numastack/request"
	"numastack/spin"
)

// Stats counts how a handle's operations were resolved.
type Stats struct {
	// Eliminated operations cancelled against an opposite operation.
	Eliminated uint64
	// Timeouts are elimination attempts that found no partner.
	Timeouts uint64
	// Collisions are elimination attempts that hit a busy exchanger.
	Collisions uint64
	// Combined operations were applied by the combiner.
	Combined uint64
}

// Add accumulates o into st.
func (st *Stats) Add(o Stats) {
	st.Eliminated += o.Eliminated
	st.Timeouts += o.Timeouts
	st.Collisions += o.Collisions
	st.Combined += o.Combined
}

// Handle is one registered thread's view of the stack: its id, node,
// request slot, elimination width and PRNG. A Handle belongs to the
// goroutine that registered it and must not be shared.
type Handle struct {
	stack   *Stack
	slot    *request.Slot
	array   *elimination.Array
	restore func() error

	tid      int
	node     int
	spins    int
	epoch    uint64
	released bool

	width   elimination.Width
	rng     fastrand.Source
	backoff spin.Backoff
	stats   Stats
}

// Register claims thread id tid for the calling goroutine. With Config.Pin
// set, the goroutine is locked to its OS thread and that thread is pinned to
// the node of tid; a failure is returned as *numa.AffinityError. Call
// Release from the same goroutine when done.
func (s *Stack) Register(tid int) (*Handle, error) {
	if tid < 0 || tid >= s.cfg.MaxThreads {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrThreadID, tid, s.cfg.MaxThreads)
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.claimed[tid].CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrSlotInUse, tid)
	}
	s.mu.Unlock()

	node := numa.NodeOf(tid, s.cfg.CPUs, s.cfg.NumaNodes)
	h := &Handle{
		stack:   s,
		slot:    s.board.Slot(tid),
		array:   s.arrays[node],
		tid:     tid,
		node:    node,
		spins:   s.cfg.ExchangeSpins,
		epoch:   s.epoch.Load(),
		width:   elimination.NewWidth(s.cfg.EliminationCapacity),
		rng:     fastrand.New(uint64(tid)),
		backoff: spin.Backoff{Budget: constants.WaitBudget},
	}

	if s.cfg.Pin {
		runtime.LockOSThread()
		restore, err := s.cfg.Topology.PinToNode(node)
		if err != nil {
			runtime.UnlockOSThread()
			s.claimed[tid].Store(false)
			s.cfg.Logger.Error().Err(err).Int("tid", tid).Int("node", node).Msg("worker pin failed")
			return nil, err
		}
		h.restore = restore
	}

	s.comb.Admit(tid)
	return h, nil
}

// Release undoes Register: restores the thread's affinity, unlocks it, and
// frees the thread id. Calling it again is a no-op.
func (h *Handle) Release() error {
	if h.released {
		return nil
	}
	h.released = true
	var err error
	if h.restore != nil {
		err = h.restore()
		if err == nil {
			runtime.UnlockOSThread()
		}
	}
	h.stack.claimed[h.tid].Store(false)
	return err
}

// ID returns the thread id.
func (h *Handle) ID() int { return h.tid }

// Node returns the NUMA node of the thread id.
func (h *Handle) Node() int { return h.node }

// Width returns the current elimination width.
func (h *Handle) Width() int { return h.width.Load() }

// Stats returns the handle's counters.
func (h *Handle) Stats() Stats { return h.stats }

// sync picks up a Clear since the last operation.
//
//go:nosplit
func (h *Handle) sync() {
	if e := h.stack.epoch.Load(); e != h.epoch {
		h.epoch = e
		h.width.Reset()
	}
}

// live panics with ErrClosed once the stack's memory may be gone. A
// registered handle keeps Close from succeeding, so this only fires for
// handles used after Release.
func (h *Handle) live() {
	if h.stack.closed.Load() {
		panic(ErrClosed)
	}
}

// Push adds x. It completes either by meeting a concurrent Pop on the
// elimination array or through the combiner; it never fails.
func (h *Handle) Push(x int32) {
	h.live()
	h.sync()
	out := h.array.Visit(&h.width, &h.rng, exchanger.Item(x), h.spins)
	switch out.Status {
	case exchanger.Exchanged:
		if !out.Partner.Present {
			h.stats.Eliminated++
			return
		}
		// Met another push; both fall through with their own values.
	case exchanger.Timeout:
		h.stats.Timeouts++
		h.array.Shrink(&h.width)
	case exchanger.Busy:
		h.stats.Collisions++
	}
	h.combine(request.Push, x)
}

// Pop removes and returns the top value. ok is false when the stack was
// empty at the time the combiner served the request.
func (h *Handle) Pop() (v int32, ok bool) {
	h.live()
	h.sync()
	out := h.array.Visit(&h.width, &h.rng, exchanger.Probe(), h.spins)
	switch out.Status {
	case exchanger.Exchanged:
		if out.Partner.Present {
			h.stats.Eliminated++
			return out.Partner.Value, true
		}
		// Met another pop: two probes carry nothing to return.
	case exchanger.Timeout:
		h.stats.Timeouts++
		h.array.Shrink(&h.width)
	case exchanger.Busy:
		h.stats.Collisions++
	}
	return h.combine(request.Pop, 0)
}

// combine posts op on the handle's slot and spins until the combiner
// serves it.
func (h *Handle) combine(op request.Op, x int32) (int32, bool) {
	h.stats.Combined++
	h.slot.Post(op, x)
	h.stack.comb.Wake()
	return h.slot.Await(&h.backoff)
}

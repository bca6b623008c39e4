// ════════════════════════════════════════════════════════════════════════════════════════════════
// 📚 NUMA-AWARE ELIMINATION / COMBINING STACK
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Stack Facade & Lifecycle
//
// Description:
//   Every push and pop first tries to cancel against an opposite operation on the caller's
//   node-local elimination array. Operations that find no partner are posted to the caller's
//   request slot and applied by the single pinned combiner, the only goroutine that touches the
//   sequential backing stack.
//
// Ordering:
//   Eliminated pairs never reach the backing stack. Combined operations are ordered by the
//   combiner's round-robin scan over thread ids, not by arrival.
//
// Memory:
//   One elimination array per node and the request slots of each node's thread ids are
//   allocated on that node once in New and released in Close. Nothing is freed individually.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package stack

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"numastack/combiner"
	"numastack/control"
	"numastack/elimination"
	"numastack/numa"
	"numastack/request"
)

var (
	// ErrThreadID reports a thread id outside [0, MaxThreads).
	ErrThreadID = errors.New("stack: thread id out of range")
	// ErrSlotInUse reports a thread id already registered.
	ErrSlotInUse = errors.New("stack: thread id already registered")
	// ErrClosed reports use of a closed stack.
	ErrClosed = errors.New("stack: closed")
	// ErrHandlesOpen reports a Close while handles are still registered.
	ErrHandlesOpen = errors.New("stack: handles still registered")
)

// Stack is a concurrent LIFO of int32 values. Operations go through a
// Handle obtained from Register.
type Stack struct {
	cfg     Config
	arrays  []*elimination.Array // indexed by node
	board   *request.Board
	flags   *control.Flags
	comb    *combiner.Combiner
	regions [][]byte

	claimed []atomic.Bool // indexed by thread id
	epoch   atomic.Uint64 // bumped by Clear; handles reset their width on change

	mu     sync.Mutex // orders Register against Close
	closed atomic.Bool
}

// New allocates the per-node arrays and slots and starts the combiner. A
// combiner pinning failure is returned as *numa.AffinityError.
func New(cfg Config) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	s := &Stack{
		cfg:     cfg,
		arrays:  make([]*elimination.Array, cfg.NumaNodes),
		claimed: make([]atomic.Bool, cfg.MaxThreads),
		flags:   control.New(cfg.HotWindow),
	}
	if err := s.allocate(); err != nil {
		s.release()
		return nil, err
	}

	s.comb = combiner.New(s.board, s.flags, combiner.Config{
		Node:     cfg.CombinerNode,
		Pin:      cfg.Pin,
		Topology: cfg.Topology,
		Logger:   cfg.Logger,
	})
	if err := s.comb.Start(); err != nil {
		s.release()
		return nil, err
	}

	cfg.Logger.Info().
		Int("max_threads", cfg.MaxThreads).
		Int("numa_nodes", cfg.NumaNodes).
		Int("cpus", cfg.CPUs).
		Int("elimination_capacity", cfg.EliminationCapacity).
		Bool("pinned", cfg.Pin).
		Msg("stack ready")
	return s, nil
}

func (s *Stack) alloc(size uintptr, node int) ([]byte, error) {
	mem, err := s.cfg.Allocator.Alloc(size, node)
	if err != nil {
		return nil, fmt.Errorf("stack: allocate %d bytes on node %d: %w", size, node, err)
	}
	s.regions = append(s.regions, mem)
	return mem, nil
}

func (s *Stack) allocate() error {
	nodes := s.cfg.NumaNodes
	for n := 0; n < nodes; n++ {
		mem, err := s.alloc(elimination.Size(s.cfg.EliminationCapacity), n)
		if err != nil {
			return err
		}
		if s.arrays[n], err = elimination.New(mem, s.cfg.EliminationCapacity); err != nil {
			return err
		}
	}

	// Group thread ids by node so each node's slots share one local region.
	byNode := make([][]int, nodes)
	for tid := 0; tid < s.cfg.MaxThreads; tid++ {
		n := numa.NodeOf(tid, s.cfg.CPUs, nodes)
		byNode[n] = append(byNode[n], tid)
	}
	ptrs := make([]*request.Slot, s.cfg.MaxThreads)
	for n, tids := range byNode {
		if len(tids) == 0 {
			continue
		}
		mem, err := s.alloc(request.Size(len(tids)), n)
		if err != nil {
			return err
		}
		slots, err := request.Lay(mem, len(tids))
		if err != nil {
			return err
		}
		for i, tid := range tids {
			ptrs[tid] = &slots[i]
		}
	}
	s.board = request.NewBoard(ptrs)
	return nil
}

func (s *Stack) release() error {
	var errs []error
	for _, mem := range s.regions {
		if err := s.cfg.Allocator.Free(mem); err != nil {
			errs = append(errs, err)
		}
	}
	s.regions = nil
	return errors.Join(errs...)
}

// Config returns the effective configuration.
func (s *Stack) Config() Config {
	return s.cfg
}

// Clear resets every exchanger to Empty, every request slot to None, every
// handle's active width to 1 (on its next operation), and empties the
// backing stack. It must only be called while no push or pop is in flight.
func (s *Stack) Clear() error {
	if s.closed.Load() {
		return ErrClosed
	}
	for _, a := range s.arrays {
		a.Reset()
	}
	s.board.Reset()
	s.epoch.Add(1)
	return s.comb.Clear()
}

// Dump returns up to n elements from the top of the backing stack, top
// first. Eliminated pairs never appear here.
func (s *Stack) Dump(n int) ([]int32, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.comb.Dump(n)
}

// Len returns the number of elements in the backing stack.
func (s *Stack) Len() (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.comb.Len()
}

// Served returns the number of requests the combiner has applied.
func (s *Stack) Served() uint64 {
	return s.comb.Served()
}

// Close stops and joins the combiner and releases node-local memory. It
// refuses with ErrHandlesOpen while any handle is still registered, since
// every handle points into that memory.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrClosed
	}
	if open := s.registered(); len(open) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: thread ids %v", ErrHandlesOpen, open)
	}
	s.closed.Store(true)
	s.mu.Unlock()

	s.comb.Stop()
	err := s.release()
	s.cfg.Logger.Info().Uint64("served", s.comb.Served()).Msg("stack closed")
	return err
}

func (s *Stack) registered() []int {
	var ids []int
	for tid := range s.claimed {
		if s.claimed[tid].Load() {
			ids = append(ids, tid)
		}
	}
	return ids
}

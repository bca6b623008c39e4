// ════════════════════════════════════════════════════════════════════════════════════════════════
// REQUEST SLOTS
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Caller ⇄ Combiner Mailboxes
//
// Description:
//   One cache-line cell per worker thread id. The caller writes its value, then publishes the
//   operation with an atomic store; the combiner observes the operation, writes any result, then
//   clears the operation with an atomic store. The op word is the only synchronisation between
//   the two sides: plain value/ok writes happen-before the op store that publishes them.
//
// Ownership:
//   Slots are laid over memory the stack allocates once (node-local) and releases only at Close.
//   The Board indexes them by thread id and never frees individual slots.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package request

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"numastack/constants"
	"numastack/spin"
)

// Op is the pending operation of a slot.
type Op uint32

const (
	None Op = iota
	Push
	Pop
)

func (o Op) String() string {
	switch o {
	case None:
		return "none"
	case Push:
		return "push"
	case Pop:
		return "pop"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// Slot is one mailbox. It holds no Go pointers.
type Slot struct {
	op    atomic.Uint32
	value int32
	ok    uint32
	_     [constants.CacheLineSize - 12]byte
}

// SlotSize is the footprint of one slot.
const SlotSize = unsafe.Sizeof(Slot{})

// Size returns the bytes needed to lay out n slots.
func Size(n int) uintptr {
	return uintptr(n) * SlotSize
}

// Lay overlays n slots on mem, which must be at least Size(n) bytes, 8-byte
// aligned, and outlive every use of the slots.
func Lay(mem []byte, n int) ([]Slot, error) {
	if n == 0 {
		return nil, nil
	}
	if uintptr(len(mem)) < Size(n) {
		return nil, fmt.Errorf("request: %d bytes cannot hold %d slots", len(mem), n)
	}
	base := unsafe.Pointer(unsafe.SliceData(mem))
	if uintptr(base)%8 != 0 {
		return nil, fmt.Errorf("request: backing memory %p not 8-byte aligned", base)
	}
	slots := unsafe.Slice((*Slot)(base), n)
	for i := range slots {
		slots[i].Reset()
	}
	return slots, nil
}

// ─────────────────────────────── caller side ──────────────────────────────

// Post publishes op with value v. For Pop the value is ignored.
//
//go:norace
func (s *Slot) Post(op Op, v int32) {
	s.value = v
	s.op.Store(uint32(op))
}

// Await spins until the combiner clears the slot and returns the value and
// ok flag it left behind (meaningful after Pop: ok=false means empty).
//
//go:norace
func (s *Slot) Await(b *spin.Backoff) (int32, bool) {
	for s.op.Load() != uint32(None) {
		b.Miss()
	}
	b.Hit()
	return s.value, s.ok != 0
}

// Reset clears the slot to (None, 0). Only valid while no request is in
// flight on it.
func (s *Slot) Reset() {
	s.value = 0
	s.ok = 0
	s.op.Store(uint32(None))
}

// ────────────────────────────── combiner side ─────────────────────────────

// Pending returns the posted operation, or None.
//
//go:norace
func (s *Slot) Pending() Op {
	return Op(s.op.Load())
}

// TakePush reads the pushed value and releases the caller.
//
//go:norace
func (s *Slot) TakePush() int32 {
	v := s.value
	s.op.Store(uint32(None))
	return v
}

// CompletePop hands v (or the empty signal when ok is false) to the caller
// and releases it.
//
//go:norace
func (s *Slot) CompletePop(v int32, ok bool) {
	s.value = v
	s.ok = 0
	if ok {
		s.ok = 1
	}
	s.op.Store(uint32(None))
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// BOARD
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Board indexes slots by thread id.
type Board struct {
	slots []*Slot
}

// NewBoard wraps slots; slots[i] belongs to thread id i.
func NewBoard(slots []*Slot) *Board {
	return &Board{slots: slots}
}

// Len returns the number of thread ids.
func (b *Board) Len() int { return len(b.slots) }

// Slot returns the slot of thread id i.
//
//go:nosplit
func (b *Board) Slot(i int) *Slot { return b.slots[i] }

// Reset clears every slot.
func (b *Board) Reset() {
	for _, s := range b.slots {
		s.Reset()
	}
}

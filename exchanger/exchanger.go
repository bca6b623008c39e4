// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🤝 RENDEZVOUS EXCHANGER
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Elimination Handshake Cell
//
// Description:
//   A single 64-bit word through which two goroutines swap one offer each. The word packs the
//   offered payload, a presence tag and a three-state status, and every transition is one CAS on
//   the whole word, so payload and status can never be observed torn.
//
// Word layout:
//   bits 63..32  payload (int32, two's complement)
//   bit  2       present: 1 = offer carries a value (push), 0 = neutral probe (pop)
//   bits 1..0    status: Empty=0, Waiting=1, Busy=2 (3 is impossible)
//
// Lifecycle:
//   Empty ──CAS by first arrival──▶ Waiting ──CAS by second arrival──▶ Busy ──store by waiter──▶ Empty
//   Waiting ──CAS by waiter on timeout──▶ Empty
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package exchanger

import (
	"errors"
	"fmt"
	"sync/atomic"

	"numastack/constants"
	"numastack/debug"
	"numastack/spin"
)

// ErrImpossibleState reports a status outside {Empty, Waiting, Busy}. It can
// only be produced by memory corruption or a protocol bug and aborts the
// process.
var ErrImpossibleState = errors.New("exchanger: impossible state")

const (
	stEmpty   uint64 = 0
	stWaiting uint64 = 1
	stBusy    uint64 = 2

	statusMask  uint64 = 0b11
	presentBit  uint64 = 1 << 2
	payloadShift       = 32
)

// Offer is what one side brings to the handshake.
type Offer struct {
	Value   int32
	Present bool
}

// Item builds the offer of a push.
func Item(v int32) Offer { return Offer{Value: v, Present: true} }

// Probe builds the neutral offer of a pop.
func Probe() Offer { return Offer{} }

// Status is the result class of one Exchange call.
type Status uint8

const (
	// Exchanged means a partner was met; Outcome.Partner holds its offer.
	Exchanged Status = iota
	// Timeout means no partner arrived within the spin bound.
	Timeout
	// Busy means the cell was mid-handshake between two other goroutines.
	Busy
)

func (s Status) String() string {
	switch s {
	case Exchanged:
		return "exchanged"
	case Timeout:
		return "timeout"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Outcome is the tagged result of Exchange. Partner is meaningful only when
// Status is Exchanged.
type Outcome struct {
	Partner Offer
	Status  Status
}

// Exchanger is one handshake cell, padded to a cache line. It holds no Go
// pointers, so it may live in memory obtained outside the Go heap. The zero
// value is Empty.
type Exchanger struct {
	word atomic.Uint64
	_    [constants.CacheLineSize - 8]byte
}

//go:nosplit
//go:inline
func pack(o Offer, status uint64) uint64 {
	w := uint64(uint32(o.Value))<<payloadShift | status
	if o.Present {
		w |= presentBit
	}
	return w
}

//go:nosplit
//go:inline
func unpack(w uint64) Offer {
	return Offer{Value: int32(uint32(w >> payloadShift)), Present: w&presentBit != 0}
}

// Exchange offers mine and tries to meet a partner. A goroutine that finds
// the cell Empty installs its offer and polls up to spins times for a
// partner; one that finds it Waiting completes the handshake immediately;
// one that finds it Busy returns Busy without waiting.
//
//go:norace
func (e *Exchanger) Exchange(mine Offer, spins int) Outcome {
	for {
		w := e.word.Load()
		switch w & statusMask {
		case stEmpty:
			offer := pack(mine, stWaiting)
			if !e.word.CompareAndSwap(w, offer) {
				continue
			}
			for i := 0; i < spins; i++ {
				if cur := e.word.Load(); cur&statusMask == stBusy {
					e.word.Store(stEmpty)
					return Outcome{Status: Exchanged, Partner: unpack(cur)}
				}
				spin.Relax()
			}
			if e.word.CompareAndSwap(offer, stEmpty) {
				return Outcome{Status: Timeout}
			}
			// A partner completed the handshake after the last poll.
			cur := e.word.Load()
			e.word.Store(stEmpty)
			return Outcome{Status: Exchanged, Partner: unpack(cur)}

		case stWaiting:
			if e.word.CompareAndSwap(w, pack(mine, stBusy)) {
				return Outcome{Status: Exchanged, Partner: unpack(w)}
			}

		case stBusy:
			return Outcome{Status: Busy}

		default:
			impossible(w)
		}
	}
}

// Reset forces the cell back to Empty. Only valid while no goroutine is
// inside Exchange on this cell.
func (e *Exchanger) Reset() {
	e.word.Store(stEmpty)
}

func impossible(w uint64) {
	err := fmt.Errorf("%w: word %#016x", ErrImpossibleState, w)
	debug.Logger().Error().Err(err).Msg("exchanger corrupted")
	panic(err)
}

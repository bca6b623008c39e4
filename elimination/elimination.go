// ════════════════════════════════════════════════════════════════════════════════════════════════
// ELIMINATION ARRAY
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Per-Node Exchanger Array
//
// Description:
//   A fixed array of exchangers, one array per NUMA node, placed in node-local memory. A visiting
//   goroutine samples one cell uniformly from the prefix [0, width) of the array, where width is
//   its own adaptive Width: grown when it hits a busy cell (spread out under contention), shrunk
//   after a timeout (gather in under low contention).
//
// Threading model:
//   - Cells are shared and only touched through Exchanger's CAS protocol
//   - Width is owned by one goroutine and never synchronised
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package elimination

import (
	"fmt"
	"unsafe"

	"numastack/exchanger"
	"numastack/fastrand"
)

// cellSize is the footprint of one exchanger cell.
const cellSize = unsafe.Sizeof(exchanger.Exchanger{})

// Size returns the bytes needed to back an array of the given capacity.
func Size(capacity int) uintptr {
	return uintptr(capacity) * cellSize
}

// Array is a fixed-capacity sequence of exchangers over caller-owned memory.
type Array struct {
	cells []exchanger.Exchanger
}

// New lays an array of capacity cells over mem. mem must be at least
// Size(capacity) bytes, 8-byte aligned, and must outlive the array; the
// array never frees it.
func New(mem []byte, capacity int) (*Array, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("elimination: capacity %d < 1", capacity)
	}
	if uintptr(len(mem)) < Size(capacity) {
		return nil, fmt.Errorf("elimination: %d bytes cannot hold %d cells", len(mem), capacity)
	}
	base := unsafe.Pointer(unsafe.SliceData(mem))
	if uintptr(base)%8 != 0 {
		return nil, fmt.Errorf("elimination: backing memory %p not 8-byte aligned", base)
	}
	a := &Array{cells: unsafe.Slice((*exchanger.Exchanger)(base), capacity)}
	a.Reset()
	return a, nil
}

// Capacity returns the number of cells.
func (a *Array) Capacity() int {
	return len(a.cells)
}

// Visit offers mine on a random cell within w's active width. A Busy cell
// widens w before returning.
//
//go:norace
func (a *Array) Visit(w *Width, rng *fastrand.Source, mine exchanger.Offer, spins int) exchanger.Outcome {
	i := rng.Uint32n(uint32(w.Load()))
	out := a.cells[i].Exchange(mine, spins)
	if out.Status == exchanger.Busy {
		w.Grow()
	}
	return out
}

// Shrink narrows w after a timeout.
func (a *Array) Shrink(w *Width) {
	w.Shrink()
}

// Reset returns every cell to Empty. Only valid while no goroutine is
// visiting.
func (a *Array) Reset() {
	for i := range a.cells {
		a.cells[i].Reset()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ACTIVE WIDTH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Width is a goroutine-local probe bound in [1, max].
type Width struct {
	n   int
	max int
}

// NewWidth returns a width of 1 bounded by capacity.
func NewWidth(capacity int) Width {
	if capacity < 1 {
		capacity = 1
	}
	return Width{n: 1, max: capacity}
}

// Load returns the current width.
func (w *Width) Load() int { return w.n }

// Max returns the ceiling.
func (w *Width) Max() int { return w.max }

// Grow widens by one up to the ceiling.
func (w *Width) Grow() {
	if w.n < w.max {
		w.n++
	}
}

// Shrink narrows by one down to 1.
func (w *Width) Shrink() {
	if w.n > 1 {
		w.n--
	}
}

// Reset returns the width to 1.
func (w *Width) Reset() { w.n = 1 }

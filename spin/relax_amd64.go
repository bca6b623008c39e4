// ════════════════════════════════════════════════════════════════════════════════════════════════
// CPU Relaxation - AMD64 Architecture
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: x86-64 Spin-Wait Hint
//
// Description:
//   Emits the PAUSE instruction inside exchanger polls, slot waits and idle combiner scans.
//   PAUSE yields pipeline resources to the sibling hyperthread and avoids the memory-order
//   mis-speculation penalty when the polled word finally changes.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build amd64 && cgo && !noasm

package spin

/*
static inline void cpu_pause() {
    __asm__ __volatile__("pause" ::: "memory");
}
*/
import "C"

// Relax emits x86-64 PAUSE.
//
//go:norace
//go:nocheckptr
func Relax() {
	C.cpu_pause()
}

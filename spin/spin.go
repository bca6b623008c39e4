// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ SPIN BACKOFF
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Busy-Wait Pacing
//
// Description:
//   Every blocking point in the stack is a busy-wait: exchanger polls, slow-path callers waiting
//   for the combiner, and the combiner's own idle scans. Backoff relaxes the CPU on every miss and
//   hands the P back to the scheduler once a budget of misses is spent, so that spinning
//   goroutines sharing a P with the combiner (GOMAXPROCS < workers + 1) cannot starve it.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package spin

import "runtime"

// Backoff paces a single busy-wait loop. The zero value yields after every
// miss; set Budget to spin longer between yields. Not safe for concurrent use.
type Backoff struct {
	Budget int
	miss   int
}

// Miss records a failed poll: relax, and yield once the budget is spent.
//
//go:norace
func (b *Backoff) Miss() {
	Relax()
	if b.miss++; b.miss >= b.Budget {
		b.miss = 0
		runtime.Gosched()
	}
}

// Hit resets the miss counter after a successful poll.
func (b *Backoff) Hit() {
	b.miss = 0
}

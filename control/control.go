// control.go — Hot/stop flags and activity cooldown for the combiner
// ============================================================================
// COMBINER COORDINATION
// ============================================================================
//
// Control provides the signalling the combiner loop polls on every scan:
// whether request traffic is recent enough to keep spinning flat out, and
// whether the owning stack has asked it to terminate.
//
// Architecture overview:
//   • One Flags value per stack instance; no process-wide state
//   • Callers mark activity when they post a slow-path request
//   • The combiner clears the hot flag once the cooldown elapses
//   • Shutdown is a one-way latch observed by the combiner
//
// Threading model:
//   • Any goroutine may call SignalActivity / Shutdown
//   • PollCooldown is called only from the combiner loop
//   • All fields are single-word atomics

package control

import (
	"sync/atomic"
	"time"
)

// Flags is the coordination block shared by a stack's callers and its
// combiner. The zero value is idle, running, with no cooldown.
type Flags struct {
	hot      atomic.Uint32 // 1 = request traffic seen within the cooldown
	stop     atomic.Uint32 // 1 = combiner must exit
	lastHot  atomic.Int64  // unix nanos of the last activity signal
	cooldown int64
}

// New returns Flags whose hot flag decays after cooldown of inactivity.
func New(cooldown time.Duration) *Flags {
	return &Flags{cooldown: int64(cooldown)}
}

// SignalActivity marks the system hot. Called on the slow path before a
// request is posted, so the combiner is spinning by the time it matters.
func (f *Flags) SignalActivity() {
	f.lastHot.Store(time.Now().UnixNano())
	if f.hot.Load() == 0 {
		f.hot.Store(1)
	}
}

// PollCooldown clears the hot flag once the cooldown elapsed since the
// last SignalActivity.
func (f *Flags) PollCooldown() {
	if f.hot.Load() == 1 && time.Now().UnixNano()-f.lastHot.Load() > f.cooldown {
		f.hot.Store(0)
	}
}

// Hot reports whether request traffic is considered active.
func (f *Flags) Hot() bool {
	return f.hot.Load() == 1
}

// Shutdown latches the stop flag.
func (f *Flags) Shutdown() {
	f.stop.Store(1)
}

// Stopped reports whether Shutdown was called.
func (f *Flags) Stopped() bool {
	return f.stop.Load() != 0
}

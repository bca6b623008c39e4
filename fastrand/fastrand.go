// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: fastrand.go — Per-thread xorshift96 index source
//
// Purpose:
//   - Picks the elimination cell a thread probes on each visit.
//   - Owned by exactly one goroutine; no atomics, no shared state.
//
// Notes:
//   - Period 2^96-1. Quality is irrelevant beyond spreading threads across
//     the active width; speed is what matters on the push/pop hot path.
// ─────────────────────────────────────────────────────────────────────────────

package fastrand

import "numastack/utils"

// Source is a xorshift96 generator. The zero value is not usable; build one
// with New.
type Source struct {
	x, y, z uint32
}

// New returns a Source seeded from seed. Distinct seeds (for example thread
// ids) yield independent streams.
func New(seed uint64) Source {
	m := utils.Mix64(seed + 0x9e3779b97f4a7c15)
	s := Source{
		x: 123456789 ^ uint32(m),
		y: 362436069 ^ uint32(m>>32),
		z: 521288629,
	}
	if s.x == 0 && s.y == 0 {
		s.x = 123456789
	}
	return s
}

// Uint32 returns the next value of the stream.
//
//go:nosplit
//go:inline
func (s *Source) Uint32() uint32 {
	x := s.x
	x ^= x << 16
	x ^= x >> 5
	x ^= x << 1

	t := x
	s.x = s.y
	s.y = s.z
	s.z = t ^ s.x ^ s.y
	return s.z
}

// Uint32n returns a value in [0, n). n must be non-zero.
//
//go:nosplit
//go:inline
func (s *Source) Uint32n(n uint32) uint32 {
	return uint32((uint64(s.Uint32()) * uint64(n)) >> 32)
}

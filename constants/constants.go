// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Stack-wide tunables and reference topology
//
// Purpose:
//   - Defines the reference sizing for thread slots, elimination arrays and
//     NUMA placement used when no explicit configuration is supplied.
//   - Defines combiner polling cadence and exchanger spin bounds.
//
// Notes:
//   - Reference topology is a 4-socket, 64-CPU host; DefaultConfig replaces
//     the topology values with what the kernel reports when discovery works.
//   - Every elimination cell and request slot is padded to CacheLineSize so
//     neighbouring threads never share a line.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ───────────────────────────── Thread Slots ───────────────────────────────

const (
	// MaxThreads bounds the number of registered worker threads.
	// One request slot is reserved per thread id in [0, MaxThreads).
	MaxThreads = 128

	// NumaNodes is the reference node count used by the thread→node mapping
	// node = (tid / (CPUs / NumaNodes)) % NumaNodes.
	NumaNodes = 4

	// CPUs is the reference logical CPU count of the host.
	CPUs = 64
)

// ─────────────────────────── Elimination Array ────────────────────────────

const (
	// EliminationCapacity is the number of exchangers per NUMA node.
	// A thread's active width never exceeds this value.
	EliminationCapacity = 32

	// ExchangeSpins bounds the polls a waiting exchanger performs before it
	// tries to withdraw its offer.
	ExchangeSpins = 100
)

// ──────────────────────────── Combiner Polling ────────────────────────────

const (
	// CombinerNode is the node the combiner goroutine is pinned to.
	CombinerNode = 0

	// HotWindow keeps the combiner spinning without relaxation after the
	// last serviced request.
	HotWindow = 50 * time.Millisecond

	// SpinBudget is the number of empty scans before a CPU relax + yield.
	SpinBudget = 224

	// WaitBudget is the number of polls a caller spends on its request slot
	// before yielding its P to the scheduler.
	WaitBudget = 64
)

// ─────────────────────────────── Layout ───────────────────────────────────

const (
	// CacheLineSize is the padding unit for shared cells.
	CacheLineSize = 64
)

// ─────────────────────────────── Benchmark ────────────────────────────────

const (
	// BenchOps is the total operation count split across workers per phase.
	BenchOps = 10_000_000

	// BenchWarmup is the number of leading iterations (divided by thread
	// count) that always push, so the first pops find data.
	BenchWarmup = 1000

	// DumpDepth is the number of top elements printed after each phase.
	DumpDepth = 10
)

// ─────────────────────────────── Results ──────────────────────────────────

const (
	// ResultsDBPath is the default sqlite file benchmark runs are recorded in.
	ResultsDBPath = "numastack_runs.db"
)

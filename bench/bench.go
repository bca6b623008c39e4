// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🏁 WORKLOAD DRIVER
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Thread-Scaling Benchmark
//
// Description:
//   Runs the push/pop workload at 1, 2, 4, … threads. Each phase clears the stack, fans out one
//   registered worker per thread id, times the join, and checks that pushes minus successful
//   pops equals what is left on the backing stack.
//
// Workload:
//   Worker iterations 1..ops/threads push their index on a coin flip, or unconditionally for the
//   first warmup/threads iterations, and pop otherwise.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"numastack/constants"
	"numastack/fastrand"
	"numastack/results"
	"numastack/stack"
)

// ErrConservation reports a phase whose push and pop counts do not account
// for the remaining stack length.
var ErrConservation = errors.New("bench: conservation violated")

// Config shapes the workload.
type Config struct {
	// MaxThreads caps the doubling sequence of thread counts.
	MaxThreads int
	// Ops is the total iteration count per phase, split across workers.
	Ops int
	// Warmup leading iterations (divided by thread count) always push.
	Warmup int
	// DumpDepth is how many top elements each phase records.
	DumpDepth int
	// Seed is mixed with the thread id to seed each worker.
	Seed   uint64
	Logger zerolog.Logger
}

// DefaultConfig mirrors the reference benchmark.
func DefaultConfig() Config {
	return Config{
		MaxThreads: constants.MaxThreads,
		Ops:        constants.BenchOps,
		Warmup:     constants.BenchWarmup,
		DumpDepth:  constants.DumpDepth,
		Seed:       1,
		Logger:     zerolog.Nop(),
	}
}

// ThreadCounts returns 1, 2, 4, … up to and including max.
func ThreadCounts(max int) []int {
	var out []int
	for n := 1; n <= max; n *= 2 {
		out = append(out, n)
	}
	return out
}

// Driver runs phases against one stack.
type Driver struct {
	s   *stack.Stack
	cfg Config
}

// New binds a driver to s.
func New(s *stack.Stack, cfg Config) *Driver {
	if cfg.MaxThreads > s.Config().MaxThreads {
		cfg.MaxThreads = s.Config().MaxThreads
	}
	return &Driver{s: s, cfg: cfg}
}

// Run executes every phase in order and stops at the first failure.
func (d *Driver) Run(ctx context.Context) ([]results.Phase, error) {
	var phases []results.Phase
	for _, n := range ThreadCounts(d.cfg.MaxThreads) {
		p, err := d.Phase(ctx, n)
		if err != nil {
			return phases, err
		}
		phases = append(phases, p)
	}
	return phases, nil
}

type tally struct {
	pushes int64
	pops   int64
	stats  stack.Stats
}

// Phase runs the workload once with the given number of threads.
func (d *Driver) Phase(ctx context.Context, threads int) (results.Phase, error) {
	if threads < 1 || threads > d.s.Config().MaxThreads {
		return results.Phase{}, fmt.Errorf("bench: %d threads outside [1, %d]", threads, d.s.Config().MaxThreads)
	}
	if err := d.s.Clear(); err != nil {
		return results.Phase{}, err
	}

	per := d.cfg.Ops / threads
	warm := d.cfg.Warmup / threads
	tallies := make([]tally, threads)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for t := 0; t < threads; t++ {
		g.Go(func() error {
			return d.work(gctx, t, per, warm, &tallies[t])
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return results.Phase{}, err
	}

	p := results.Phase{Threads: threads, Ops: int64(per) * int64(threads), Elapsed: elapsed}
	var pushes, pops int64
	for _, tl := range tallies {
		pushes += tl.pushes
		pops += tl.pops
		p.Eliminated += tl.stats.Eliminated
		p.Timeouts += tl.stats.Timeouts
		p.Collisions += tl.stats.Collisions
		p.Combined += tl.stats.Combined
	}
	if p.Remaining, err = d.s.Len(); err != nil {
		return results.Phase{}, err
	}
	if p.Top, err = d.s.Dump(d.cfg.DumpDepth); err != nil {
		return results.Phase{}, err
	}
	if pushes-pops != int64(p.Remaining) {
		return p, fmt.Errorf("%w: %d threads pushed %d popped %d but %d remain",
			ErrConservation, threads, pushes, pops, p.Remaining)
	}

	d.cfg.Logger.Info().
		Int("threads", threads).
		Dur("elapsed", elapsed).
		Uint64("eliminated", p.Eliminated).
		Uint64("combined", p.Combined).
		Int("remaining", p.Remaining).
		Ints32("top", p.Top).
		Msg("phase done")
	return p, nil
}

func (d *Driver) work(ctx context.Context, tid, per, warm int, out *tally) error {
	h, err := d.s.Register(tid)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Release(); err != nil {
			d.cfg.Logger.Warn().Err(err).Int("tid", tid).Msg("worker affinity restore failed")
		}
	}()

	rng := fastrand.New(d.cfg.Seed ^ uint64(tid))
	for i := 1; i <= per; i++ {
		if i&0xfff == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if rng.Uint32()&1 == 1 || i <= warm {
			h.Push(int32(i))
			out.pushes++
		} else if _, ok := h.Pop(); ok {
			out.pops++
		}
	}
	out.stats = h.Stats()
	return nil
}

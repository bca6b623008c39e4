// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ CORE-PINNED COMBINER
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Flat-Combining Service Loop
//
// Description:
//   A single goroutine, locked to an OS thread pinned to one NUMA node, that owns the sequential
//   backing stack. It scans the request board round-robin over [0, limit) and applies every
//   posted push/pop, so the backing stack never needs synchronisation. Between scans it services
//   control commands (clear, dump, length) so that even inspection goes through the one owner.
//
// Adaptive Behavior:
//   - Hot mode: relax-only polling while requests were served within the hot window
//   - Cold mode: yield the P after every empty scan
//   - Callers flip the system hot when they post while it is cold
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package combiner

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"numastack/constants"
	"numastack/control"
	"numastack/numa"
	"numastack/request"
	"numastack/spin"
)

// ErrStopped is returned by commands issued after Stop.
var ErrStopped = errors.New("combiner: stopped")

// Config places and paces the combiner.
type Config struct {
	// Node the combiner thread is pinned to when Pin is set.
	Node int
	Pin  bool
	// Topology resolves Node to CPUs. Required when Pin is set.
	Topology *numa.Topology
	// SpinBudget is the number of hot empty scans between yields.
	SpinBudget int
	Logger     zerolog.Logger
}

type cmdKind uint8

const (
	cmdClear cmdKind = iota
	cmdDump
	cmdLen
)

type command struct {
	kind  cmdKind
	n     int
	out   []int32
	count int
	done  chan struct{}
}

// Combiner serves a request board against a private LIFO sequence.
type Combiner struct {
	board *request.Board
	flags *control.Flags
	cfg   Config

	limit  atomic.Int32
	ctl    atomic.Pointer[command]
	served atomic.Uint64

	items []int32 // owned by the run goroutine

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
}

// New builds a combiner over board. Nothing runs until Start.
func New(board *request.Board, flags *control.Flags, cfg Config) *Combiner {
	if cfg.SpinBudget <= 0 {
		cfg.SpinBudget = constants.SpinBudget
	}
	return &Combiner{
		board: board,
		flags: flags,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
}

// Start launches the service goroutine and waits until it is pinned. A
// pinning failure is returned as *numa.AffinityError and leaves nothing
// running. Start may be called once.
func (c *Combiner) Start() error {
	err := errors.New("combiner: already started")
	c.startOnce.Do(func() {
		ready := make(chan error, 1)
		go c.run(ready)
		if err = <-ready; err == nil {
			c.started.Store(true)
		}
	})
	return err
}

// Stop asks the loop to exit and waits for it. Safe to call repeatedly and
// before Start.
func (c *Combiner) Stop() {
	c.stopOnce.Do(func() {
		c.flags.Shutdown()
		if c.started.Load() {
			<-c.done
		}
	})
}

// Admit widens the scan range to cover thread id tid.
func (c *Combiner) Admit(tid int) {
	want := int32(tid + 1)
	for {
		cur := c.limit.Load()
		if cur >= want || c.limit.CompareAndSwap(cur, want) {
			return
		}
	}
}

// Limit returns the current scan bound.
func (c *Combiner) Limit() int {
	return int(c.limit.Load())
}

// Served returns the number of requests applied so far.
func (c *Combiner) Served() uint64 {
	return c.served.Load()
}

// Wake marks the system hot if it cooled down. Called by posting callers.
//
//go:nosplit
func (c *Combiner) Wake() {
	if !c.flags.Hot() {
		c.flags.SignalActivity()
	}
}

// Clear empties the backing stack.
func (c *Combiner) Clear() error {
	_, err := c.do(&command{kind: cmdClear})
	return err
}

// Dump returns up to n elements from the top of the backing stack, top
// first.
func (c *Combiner) Dump(n int) ([]int32, error) {
	cmd, err := c.do(&command{kind: cmdDump, n: n})
	if err != nil {
		return nil, err
	}
	return cmd.out, nil
}

// Len returns the number of elements in the backing stack.
func (c *Combiner) Len() (int, error) {
	cmd, err := c.do(&command{kind: cmdLen})
	if err != nil {
		return 0, err
	}
	return cmd.count, nil
}

func (c *Combiner) do(cmd *command) (*command, error) {
	if !c.started.Load() || c.flags.Stopped() {
		return nil, ErrStopped
	}
	cmd.done = make(chan struct{})
	var backoff spin.Backoff
	for !c.ctl.CompareAndSwap(nil, cmd) {
		select {
		case <-c.done:
			return nil, ErrStopped
		default:
		}
		backoff.Miss()
	}
	c.Wake()

	select {
	case <-cmd.done:
		return cmd, nil
	case <-c.done:
		// The loop drains ctl before closing done; if cmd is still posted it
		// was never taken.
		if c.ctl.CompareAndSwap(cmd, nil) {
			return nil, ErrStopped
		}
		<-cmd.done
		return cmd, nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SERVICE LOOP
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (c *Combiner) run(ready chan<- error) {
	runtime.LockOSThread()

	var restore func() error
	if c.cfg.Pin {
		var err error
		if restore, err = c.cfg.Topology.PinToNode(c.cfg.Node); err != nil {
			c.cfg.Logger.Error().Err(err).Int("node", c.cfg.Node).Msg("combiner pin failed")
			runtime.UnlockOSThread()
			ready <- err
			return
		}
	}

	defer func() {
		if restore != nil {
			if err := restore(); err != nil {
				// Leave the thread locked; the runtime discards it on exit.
				c.cfg.Logger.Warn().Err(err).Msg("combiner affinity restore failed")
				close(c.done)
				return
			}
		}
		runtime.UnlockOSThread()
		close(c.done)
	}()

	c.cfg.Logger.Debug().Int("node", c.cfg.Node).Bool("pinned", c.cfg.Pin).Msg("combiner started")
	ready <- nil

	hot := spin.Backoff{Budget: c.cfg.SpinBudget}
	cold := spin.Backoff{Budget: 1}
	for {
		if c.flags.Stopped() {
			c.service()
			c.cfg.Logger.Debug().Uint64("served", c.served.Load()).Msg("combiner stopped")
			return
		}

		// Commands are served between every pair of scans, busy or not.
		c.service()
		if n := c.scan(); n > 0 {
			c.served.Add(uint64(n))
			c.flags.SignalActivity()
			hot.Hit()
			continue
		}

		c.flags.PollCooldown()
		if c.flags.Hot() {
			hot.Miss()
			continue
		}
		cold.Miss()
	}
}

// scan applies every posted request once and returns how many it served.
//
//go:norace
func (c *Combiner) scan() int {
	limit := int(c.limit.Load())
	served := 0
	for i := 0; i < limit; i++ {
		s := c.board.Slot(i)
		switch s.Pending() {
		case request.Push:
			c.items = append(c.items, s.TakePush())
			served++
		case request.Pop:
			if n := len(c.items); n > 0 {
				s.CompletePop(c.items[n-1], true)
				c.items = c.items[:n-1]
			} else {
				s.CompletePop(0, false)
			}
			served++
		}
	}
	return served
}

// service runs a pending control command, if any.
func (c *Combiner) service() {
	cmd := c.ctl.Load()
	if cmd == nil {
		return
	}
	switch cmd.kind {
	case cmdClear:
		clear(c.items)
		c.items = c.items[:0]
	case cmdDump:
		n := min(max(cmd.n, 0), len(c.items))
		cmd.out = make([]int32, n)
		for i := range cmd.out {
			cmd.out[i] = c.items[len(c.items)-1-i]
		}
	case cmdLen:
		cmd.count = len(c.items)
	}
	c.ctl.Store(nil)
	close(cmd.done)
}

// Hot reports whether requests were served within the hot window.
func (c *Combiner) Hot() bool {
	return c.flags.Hot()
}

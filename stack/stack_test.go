// ============================================================================
// STACK FACADE VALIDATION SUITE
// ============================================================================
//
// Test categories:
//   - Configuration: validation, defaults
//   - Registration: id range, double claim, release, closed stack, open handles
//   - Sequential semantics: LIFO, empty pop, clear, dump
//   - Concurrency: conservation, elimination correctness, liveness
//   - Placement: node-local allocator path

package stack

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"numastack/numa"
)

// ============================================================================
// TEST UTILITIES AND HELPERS
// ============================================================================

func testConfig() Config {
	return Config{
		MaxThreads:          16,
		NumaNodes:           2,
		CPUs:                8,
		EliminationCapacity: 4,
		ExchangeSpins:       100,
		Allocator:           numa.HeapAllocator{},
		HotWindow:           20 * time.Millisecond,
		Logger:              zerolog.Nop(),
	}
}

func open(t *testing.T, cfg Config) *Stack {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func register(t *testing.T, s *Stack, tid int) *Handle {
	t.Helper()
	h, err := s.Register(tid)
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	return h
}

// withTimeout fails the test if fn does not return within d.
func withTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("operation blocked for more than %v", d)
	}
}

// ============================================================================
// CONFIGURATION
// ============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no threads", func(c *Config) { c.MaxThreads = 0 }},
		{"no nodes", func(c *Config) { c.NumaNodes = 0 }},
		{"no cpus", func(c *Config) { c.CPUs = 0 }},
		{"no capacity", func(c *Config) { c.EliminationCapacity = 0 }},
		{"negative spins", func(c *Config) { c.ExchangeSpins = -1 }},
		{"combiner node out of range", func(c *Config) { c.CombinerNode = 2 }},
		{"pin without topology", func(c *Config) { c.Pin = true }},
		{"more nodes than the topology", func(c *Config) { c.Topology = numa.NewTopology([][]int{{0}}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)

			_, err = New(cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
	assert.NoError(t, testConfig().Validate())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := testConfig()
	cfg.Allocator = nil
	cfg.HotWindow = 0
	s := open(t, cfg)
	assert.Equal(t, numa.HeapAllocator{}, s.Config().Allocator)
	assert.Positive(t, s.Config().HotWindow)

	ref := ReferenceConfig()
	require.NoError(t, ref.Validate())
	assert.Equal(t, 4, ref.NumaNodes)
	assert.Equal(t, 64, ref.CPUs)
	assert.False(t, ref.Pin)

	def := DefaultConfig()
	assert.NoError(t, def.Validate())
	assert.True(t, def.Pin)
}

// ============================================================================
// REGISTRATION
// ============================================================================

func TestRegister_Errors(t *testing.T) {
	s := open(t, testConfig())

	_, err := s.Register(-1)
	assert.True(t, errors.Is(err, ErrThreadID))
	_, err = s.Register(16)
	assert.True(t, errors.Is(err, ErrThreadID))

	h := register(t, s, 3)
	_, err = s.Register(3)
	assert.True(t, errors.Is(err, ErrSlotInUse))

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	h2 := register(t, s, 3)
	assert.Equal(t, 3, h2.ID())
	require.NoError(t, h2.Release())

	require.NoError(t, s.Close())
	_, err = s.Register(4)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(s.Close(), ErrClosed))
}

func TestRegister_NodeMapping(t *testing.T) {
	s := open(t, testConfig())
	// 8 CPUs over 2 nodes: ids 0-3 on node 0, 4-7 on node 1, then wrap.
	for tid, node := range map[int]int{0: 0, 3: 0, 4: 1, 7: 1, 8: 0, 12: 1} {
		h := register(t, s, tid)
		assert.Equal(t, node, h.Node(), "tid %d", tid)
		assert.Equal(t, 1, h.Width())
	}
}

// ============================================================================
// SEQUENTIAL SEMANTICS
// ============================================================================

func TestStack_LIFOScenario(t *testing.T) {
	s := open(t, testConfig())
	h := register(t, s, 0)

	withTimeout(t, 5*time.Second, func() {
		h.Push(1)
		h.Push(2)
		h.Push(3)

		v, ok := h.Pop()
		require.True(t, ok)
		assert.Equal(t, int32(3), v)
		v, ok = h.Pop()
		require.True(t, ok)
		assert.Equal(t, int32(2), v)
	})

	top, err := s.Dump(10)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, top)

	st := h.Stats()
	assert.Zero(t, st.Eliminated, "a lone thread has nobody to eliminate with")
	assert.Equal(t, uint64(5), st.Combined)
	assert.Equal(t, uint64(5), st.Timeouts)
	assert.Equal(t, uint64(5), s.Served())
}

func TestStack_LIFOSingleThread(t *testing.T) {
	s := open(t, testConfig())
	h := register(t, s, 5)

	withTimeout(t, 10*time.Second, func() {
		for i := int32(0); i < 500; i++ {
			h.Push(i)
		}
		for i := int32(499); i >= 0; i-- {
			v, ok := h.Pop()
			require.True(t, ok)
			require.Equal(t, i, v)
		}
	})
}

func TestStack_EmptyPopIsSafe(t *testing.T) {
	s := open(t, testConfig())
	h := register(t, s, 1)

	withTimeout(t, 5*time.Second, func() {
		for i := 0; i < 50; i++ {
			_, ok := h.Pop()
			require.False(t, ok)
		}
		h.Push(7)
		v, ok := h.Pop()
		assert.True(t, ok)
		assert.Equal(t, int32(7), v)
	})

	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStack_ClearIsIdempotent(t *testing.T) {
	s := open(t, testConfig())
	h := register(t, s, 2)
	withTimeout(t, 5*time.Second, func() {
		for i := int32(0); i < 10; i++ {
			h.Push(i)
		}
	})

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	top, err := s.Dump(10)
	require.NoError(t, err)
	assert.Empty(t, top)

	// The stack stays usable and the handle picks up the reset.
	withTimeout(t, 5*time.Second, func() {
		h.Push(42)
		v, ok := h.Pop()
		assert.True(t, ok)
		assert.Equal(t, int32(42), v)
	})
	assert.Equal(t, 1, h.Width())
}

func TestStack_CommandsAfterClose(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Dump(1)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = s.Len()
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(s.Clear(), ErrClosed))
}

// ============================================================================
// CONCURRENCY
// ============================================================================

type workerLog struct {
	pushed []int32
	popped []int32
	stats  Stats
}

// runMixed has each worker push `per` unique values and attempt `pops` pops.
func runMixed(t *testing.T, s *Stack, workers, per, pops int) []workerLog {
	t.Helper()
	logs := make([]workerLog, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h, err := s.Register(w)
			if err != nil {
				t.Error(err)
				return
			}
			defer h.Release()
			log := &logs[w]
			for i := 0; i < per || i < pops; i++ {
				if i < per {
					v := int32(w*per + i)
					h.Push(v)
					log.pushed = append(log.pushed, v)
				}
				if i < pops {
					if v, ok := h.Pop(); ok {
						log.popped = append(log.popped, v)
					}
				}
			}
			log.stats = h.Stats()
		}(w)
	}
	withTimeout(t, 60*time.Second, wg.Wait)
	return logs
}

func TestStack_Conservation(t *testing.T) {
	s := open(t, testConfig())
	logs := runMixed(t, s, 8, 2000, 1500)

	pushed := make(map[int32]bool)
	for _, l := range logs {
		for _, v := range l.pushed {
			pushed[v] = true
		}
	}
	popped := make(map[int32]bool)
	total := 0
	for _, l := range logs {
		for _, v := range l.popped {
			require.True(t, pushed[v], "popped %d was never pushed", v)
			require.False(t, popped[v], "popped %d twice", v)
			popped[v] = true
			total++
		}
	}

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, len(pushed)-total, n)
}

// Values that left through elimination never reach the backing stack, and
// the backing stack plus all pops is exactly the pushed set.
func TestStack_EliminationCorrectness(t *testing.T) {
	cfg := testConfig()
	cfg.EliminationCapacity = 2
	cfg.ExchangeSpins = 2000
	s := open(t, cfg)
	logs := runMixed(t, s, 8, 3000, 3000)

	var agg Stats
	var popped, pushed []int32
	for _, l := range logs {
		agg.Add(l.stats)
		popped = append(popped, l.popped...)
		pushed = append(pushed, l.pushed...)
	}
	t.Logf("stats: %+v", agg)

	rest, err := s.Dump(len(pushed))
	require.NoError(t, err)

	all := append(append([]int32(nil), popped...), rest...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	sort.Slice(pushed, func(i, j int) bool { return pushed[i] < pushed[j] })
	assert.Equal(t, pushed, all, "every pushed value is either popped once or still stacked")

	// Each eliminated push is matched by an eliminated pop, and only the
	// rest ever reaches the combiner.
	assert.Zero(t, agg.Eliminated%2, "eliminations come in pairs")
	require.Eventually(t, func() bool { return s.Served() == agg.Combined }, 5*time.Second, time.Millisecond)
	assert.Equal(t, uint64(len(pushed)+len(pushed)), agg.Eliminated+agg.Combined)
}

// One pusher and one popper sharing a single exchanger must meet. The spin
// bound outlasts a scheduler preemption so they pair even on one P.
func TestStack_PushPopPairEliminates(t *testing.T) {
	cfg := testConfig()
	cfg.EliminationCapacity = 1
	cfg.ExchangeSpins = 1_000_000
	s := open(t, cfg)

	var met atomic.Bool
	deadline := time.Now().Add(20 * time.Second)
	var pusher, popper Stats
	var popped []int32
	var pushes int

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h, err := s.Register(0)
		if !assert.NoError(t, err) {
			return
		}
		defer h.Release()
		for !met.Load() && time.Now().Before(deadline) {
			pushes++
			h.Push(int32(pushes))
			if h.Stats().Eliminated > 0 {
				met.Store(true)
			}
		}
		pusher = h.Stats()
	}()
	go func() {
		defer wg.Done()
		h, err := s.Register(1)
		if !assert.NoError(t, err) {
			return
		}
		defer h.Release()
		for !met.Load() && time.Now().Before(deadline) {
			if v, ok := h.Pop(); ok {
				popped = append(popped, v)
			}
			if h.Stats().Eliminated > 0 {
				met.Store(true)
			}
		}
		popper = h.Stats()
	}()
	withTimeout(t, 30*time.Second, wg.Wait)

	require.Positive(t, pusher.Eliminated, "pusher never met the popper")
	assert.Equal(t, pusher.Eliminated, popper.Eliminated)

	rest, err := s.Dump(pushes)
	require.NoError(t, err)
	assert.Equal(t, pushes, len(popped)+len(rest))
	require.Eventually(t, func() bool {
		return s.Served() == pusher.Combined+popper.Combined
	}, 5*time.Second, time.Millisecond, "eliminated operations never reach the combiner")
}

func TestStack_ClearResetsHandleWidth(t *testing.T) {
	s := open(t, testConfig())
	h := register(t, s, 0)
	h.width.Grow()
	h.width.Grow()
	require.Equal(t, 3, h.Width())

	require.NoError(t, s.Clear())
	withTimeout(t, 5*time.Second, func() { h.Push(1) })
	assert.LessOrEqual(t, h.Width(), 1)
}

func TestStack_LivenessAfterIdle(t *testing.T) {
	cfg := testConfig()
	cfg.HotWindow = time.Millisecond
	s := open(t, cfg)
	h := register(t, s, 0)

	// Let the combiner fall back to cold polling.
	time.Sleep(20 * time.Millisecond)
	withTimeout(t, 5*time.Second, func() {
		h.Push(9)
		v, ok := h.Pop()
		assert.True(t, ok)
		assert.Equal(t, int32(9), v)
	})
}

// ============================================================================
// PLACEMENT
// ============================================================================

func TestStack_NodeAllocator(t *testing.T) {
	cfg := testConfig()
	cfg.NumaNodes = 1
	cfg.Allocator = numa.NodeAllocator{}
	s := open(t, cfg)
	h := register(t, s, 0)

	withTimeout(t, 5*time.Second, func() {
		h.Push(1)
		h.Push(2)
		v, ok := h.Pop()
		assert.True(t, ok)
		assert.Equal(t, int32(2), v)
	})
	require.NoError(t, h.Release())
	require.NoError(t, s.Close())
}

func TestStack_CloseWithOpenHandle(t *testing.T) {
	cfg := testConfig()
	cfg.NumaNodes = 1
	cfg.Allocator = numa.NodeAllocator{}
	s, err := New(cfg)
	require.NoError(t, err)
	h, err := s.Register(0)
	require.NoError(t, err)

	withTimeout(t, 5*time.Second, func() { h.Push(1) })
	err = s.Close()
	require.True(t, errors.Is(err, ErrHandlesOpen), "got %v", err)
	assert.Contains(t, err.Error(), "[0]")

	// The refused Close left memory and combiner in place.
	withTimeout(t, 5*time.Second, func() {
		h.Push(2)
		v, ok := h.Pop()
		assert.True(t, ok)
		assert.Equal(t, int32(2), v)
	})

	require.NoError(t, h.Release())
	require.NoError(t, s.Close())

	assert.PanicsWithError(t, ErrClosed.Error(), func() { h.Push(3) })
	assert.PanicsWithError(t, ErrClosed.Error(), func() { h.Pop() })
	_, err = s.Register(0)
	assert.True(t, errors.Is(err, ErrClosed))
}

func BenchmarkStack_PushPop(b *testing.B) {
	cfg := testConfig()
	s, err := New(cfg)
	require.NoError(b, err)
	defer s.Close()
	h, err := s.Register(0)
	require.NoError(b, err)
	defer h.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Push(int32(i))
		h.Pop()
	}
}

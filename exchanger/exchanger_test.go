// ============================================================================
// EXCHANGER HANDSHAKE VALIDATION SUITE
// ============================================================================
//
// Test categories:
//   - Word packing: payload sign, presence tag, status bits
//   - Solo behaviour: timeout, busy rejection, impossible state
//   - Pairing: two goroutines swap offers exactly once
//   - Stress: every exchange is matched by its mirror image

package exchanger

import (
	"errors"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"numastack/constants"
)

// ============================================================================
// LAYOUT AND PACKING
// ============================================================================

func TestExchanger_CacheLineSized(t *testing.T) {
	assert.Equal(t, uintptr(constants.CacheLineSize), unsafe.Sizeof(Exchanger{}))
}

func TestPack_RoundTripsEdgeValues(t *testing.T) {
	for _, o := range []Offer{
		Item(0), Item(1), Item(-1), Item(1<<31 - 1), Item(-1 << 31), Probe(),
	} {
		for _, st := range []uint64{stEmpty, stWaiting, stBusy} {
			w := pack(o, st)
			require.Equal(t, st, w&statusMask)
			require.Equal(t, o, unpack(w), "offer %+v status %d", o, st)
		}
	}
}

func TestPack_ProbeDistinctFromZeroItem(t *testing.T) {
	assert.NotEqual(t, pack(Probe(), stWaiting), pack(Item(0), stWaiting))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "exchanged", Exchanged.String())
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "busy", Busy.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

// ============================================================================
// SOLO BEHAVIOUR
// ============================================================================

func TestExchange_AloneTimesOut(t *testing.T) {
	var e Exchanger
	out := e.Exchange(Item(5), constants.ExchangeSpins)
	assert.Equal(t, Timeout, out.Status)
	assert.Equal(t, stEmpty, e.word.Load(), "timeout must withdraw the offer")
}

func TestExchange_ZeroSpinsTimesOut(t *testing.T) {
	var e Exchanger
	assert.Equal(t, Timeout, e.Exchange(Probe(), 0).Status)
}

func TestExchange_BusyCellRejects(t *testing.T) {
	var e Exchanger
	busy := pack(Item(11), stBusy)
	e.word.Store(busy)

	out := e.Exchange(Item(3), constants.ExchangeSpins)
	assert.Equal(t, Busy, out.Status)
	assert.Equal(t, busy, e.word.Load(), "a busy cell belongs to its waiter")
}

func TestExchange_WaitingCellCompletes(t *testing.T) {
	var e Exchanger
	e.word.Store(pack(Item(42), stWaiting))

	out := e.Exchange(Probe(), constants.ExchangeSpins)
	require.Equal(t, Exchanged, out.Status)
	assert.Equal(t, Item(42), out.Partner)

	w := e.word.Load()
	assert.Equal(t, stBusy, w&statusMask)
	assert.Equal(t, Probe(), unpack(w), "waiter must find our probe")
}

func TestExchange_ImpossibleStatePanics(t *testing.T) {
	var e Exchanger
	e.word.Store(3)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrImpossibleState))
	}()
	e.Exchange(Item(1), 1)
	t.Fatal("unreachable")
}

func TestReset(t *testing.T) {
	var e Exchanger
	e.word.Store(pack(Item(9), stWaiting))
	e.Reset()
	assert.Equal(t, stEmpty, e.word.Load())
}

// ============================================================================
// PAIRING
// ============================================================================

// exchangeUntilMatched retries until a partner is met or the deadline passes.
func exchangeUntilMatched(e *Exchanger, mine Offer, deadline time.Time) (Offer, bool) {
	for time.Now().Before(deadline) {
		if out := e.Exchange(mine, 10_000); out.Status == Exchanged {
			return out.Partner, true
		}
	}
	return Offer{}, false
}

func TestExchange_PairSwapsValues(t *testing.T) {
	var e Exchanger
	deadline := time.Now().Add(10 * time.Second)

	var got [2]Offer
	var ok [2]bool
	var wg sync.WaitGroup
	for i, o := range []Offer{Item(100), Probe()} {
		wg.Add(1)
		go func(i int, o Offer) {
			defer wg.Done()
			got[i], ok[i] = exchangeUntilMatched(&e, o, deadline)
		}(i, o)
	}
	wg.Wait()

	require.True(t, ok[0] && ok[1], "pair never met")
	assert.Equal(t, Probe(), got[0])
	assert.Equal(t, Item(100), got[1])
	assert.Equal(t, stEmpty, e.word.Load())
}

type exchangeRecord struct {
	mine, partner int32
}

// Every exchange a→b must be mirrored by exactly one b→a.
func TestExchange_StressMirrorMatched(t *testing.T) {
	const (
		goroutines = 8
		attempts   = 20_000
	)
	var e Exchanger
	records := make([][]exchangeRecord, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				v := int32(g*attempts + i + 1)
				out := e.Exchange(Item(v), 200)
				if out.Status != Exchanged {
					continue
				}
				if !out.Partner.Present {
					t.Errorf("partner of %d carried no value", v)
					return
				}
				records[g] = append(records[g], exchangeRecord{mine: v, partner: out.Partner.Value})
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[exchangeRecord]int)
	for _, rs := range records {
		for _, r := range rs {
			seen[r]++
		}
	}
	for r, n := range seen {
		require.Equal(t, 1, n, "exchange %+v recorded %d times", r, n)
		require.Equal(t, 1, seen[exchangeRecord{mine: r.partner, partner: r.mine}],
			"exchange %+v has no mirror", r)
	}
	assert.Equal(t, stEmpty, e.word.Load())
}

func BenchmarkExchange_Timeout(b *testing.B) {
	var e Exchanger
	for i := 0; i < b.N; i++ {
		e.Exchange(Item(int32(i)), constants.ExchangeSpins)
	}
}

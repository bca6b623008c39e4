package stack

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"numastack/constants"
	"numastack/debug"
	"numastack/numa"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("stack: invalid config")

// Config sizes a Stack and places it on the host.
type Config struct {
	// MaxThreads is the number of thread ids, [0, MaxThreads).
	MaxThreads int
	// NumaNodes and CPUs drive the thread→node mapping
	// node = (tid / (CPUs / NumaNodes)) % NumaNodes.
	NumaNodes int
	CPUs      int
	// EliminationCapacity is the number of exchangers per node.
	EliminationCapacity int
	// ExchangeSpins bounds each exchanger wait.
	ExchangeSpins int
	// CombinerNode is where the combiner thread runs.
	CombinerNode int
	// Pin pins the combiner and every registering thread to its node.
	Pin bool
	// Topology resolves nodes to CPUs; required when Pin is set.
	Topology *numa.Topology
	// Allocator places per-node memory. Defaults to numa.HeapAllocator.
	Allocator numa.Allocator
	// HotWindow keeps the combiner spinning after its last served request.
	HotWindow time.Duration
	Logger    zerolog.Logger
}

// DefaultConfig sizes the stack for the discovered host: one elimination
// array per node, node-local memory, pinned threads.
func DefaultConfig() Config {
	topo := numa.Discover()
	return Config{
		MaxThreads:          constants.MaxThreads,
		NumaNodes:           topo.Nodes(),
		CPUs:                topo.CPUs(),
		EliminationCapacity: constants.EliminationCapacity,
		ExchangeSpins:       constants.ExchangeSpins,
		CombinerNode:        constants.CombinerNode,
		Pin:                 true,
		Topology:            topo,
		Allocator:           numa.NodeAllocator{},
		HotWindow:           constants.HotWindow,
		Logger:              *debug.Logger(),
	}
}

// ReferenceConfig is the reference 4-node, 64-CPU sizing with placement
// disabled, for hosts that only need the mapping arithmetic.
func ReferenceConfig() Config {
	return Config{
		MaxThreads:          constants.MaxThreads,
		NumaNodes:           constants.NumaNodes,
		CPUs:                constants.CPUs,
		EliminationCapacity: constants.EliminationCapacity,
		ExchangeSpins:       constants.ExchangeSpins,
		CombinerNode:        constants.CombinerNode,
		Allocator:           numa.HeapAllocator{},
		HotWindow:           constants.HotWindow,
		Logger:              *debug.Logger(),
	}
}

// Validate reports the first inconsistent field.
func (c Config) Validate() error {
	switch {
	case c.MaxThreads < 1:
		return fmt.Errorf("%w: max threads %d < 1", ErrInvalidConfig, c.MaxThreads)
	case c.NumaNodes < 1:
		return fmt.Errorf("%w: numa nodes %d < 1", ErrInvalidConfig, c.NumaNodes)
	case c.CPUs < 1:
		return fmt.Errorf("%w: cpus %d < 1", ErrInvalidConfig, c.CPUs)
	case c.EliminationCapacity < 1:
		return fmt.Errorf("%w: elimination capacity %d < 1", ErrInvalidConfig, c.EliminationCapacity)
	case c.ExchangeSpins < 0:
		return fmt.Errorf("%w: exchange spins %d < 0", ErrInvalidConfig, c.ExchangeSpins)
	case c.CombinerNode < 0 || c.CombinerNode >= c.NumaNodes:
		return fmt.Errorf("%w: combiner node %d outside [0, %d)", ErrInvalidConfig, c.CombinerNode, c.NumaNodes)
	case c.Pin && c.Topology == nil:
		return fmt.Errorf("%w: pinning requires a topology", ErrInvalidConfig)
	case c.Topology != nil && c.NumaNodes > c.Topology.Nodes():
		return fmt.Errorf("%w: %d numa nodes but the topology has %d", ErrInvalidConfig, c.NumaNodes, c.Topology.Nodes())
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Allocator == nil {
		c.Allocator = numa.HeapAllocator{}
	}
	if c.HotWindow <= 0 {
		c.HotWindow = constants.HotWindow
	}
	return c
}

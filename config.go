// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: config.go — Benchmark executable configuration
//
// Purpose:
//   - Loads the optional TOML file and layers command-line flags on top.
//   - Produces the stack and workload configurations the driver runs with.
//
// Notes:
//   - Zero values in the file mean "keep the default".
//   - Unknown keys are rejected so typos do not silently fall back.
// ─────────────────────────────────────────────────────────────────────────────

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"numastack/bench"
	"numastack/constants"
	"numastack/stack"
)

// fileConfig is the on-disk layout:
//
//	[stack]
//	max_threads = 64
//	elimination_capacity = 16
//	exchange_spins = 200
//	combiner_node = 0
//	pin = true
//	hot_window = "50ms"
//
//	[bench]
//	ops = 1000000
//	warmup = 1000
//	dump_depth = 10
//	seed = 7
//
//	[results]
//	db = "runs.db"
//	json = false
type fileConfig struct {
	Stack struct {
		MaxThreads          int           `toml:"max_threads"`
		NumaNodes           int           `toml:"numa_nodes"`
		CPUs                int           `toml:"cpus"`
		EliminationCapacity int           `toml:"elimination_capacity"`
		ExchangeSpins       int           `toml:"exchange_spins"`
		CombinerNode        int           `toml:"combiner_node"`
		Pin                 *bool         `toml:"pin"`
		HotWindow           time.Duration `toml:"hot_window"`
	} `toml:"stack"`
	Bench struct {
		Ops       int    `toml:"ops"`
		Warmup    int    `toml:"warmup"`
		DumpDepth int    `toml:"dump_depth"`
		Seed      uint64 `toml:"seed"`
	} `toml:"bench"`
	Results struct {
		DB   string `toml:"db"`
		JSON bool   `toml:"json"`
	} `toml:"results"`
}

// runConfig is everything main needs.
type runConfig struct {
	stack  stack.Config
	bench  bench.Config
	dbPath string
	json   bool
}

func defaultRunConfig() runConfig {
	return runConfig{
		stack:  stack.DefaultConfig(),
		bench:  bench.DefaultConfig(),
		dbPath: constants.ResultsDBPath,
	}
}

// loadFile applies the TOML file at path over rc.
func loadFile(path string, rc *runConfig) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(names, ", "))
	}

	s := &rc.stack
	setInt(&s.MaxThreads, fc.Stack.MaxThreads)
	setInt(&s.NumaNodes, fc.Stack.NumaNodes)
	setInt(&s.CPUs, fc.Stack.CPUs)
	setInt(&s.EliminationCapacity, fc.Stack.EliminationCapacity)
	setInt(&s.ExchangeSpins, fc.Stack.ExchangeSpins)
	setInt(&s.CombinerNode, fc.Stack.CombinerNode)
	if fc.Stack.Pin != nil {
		s.Pin = *fc.Stack.Pin
	}
	if fc.Stack.HotWindow > 0 {
		s.HotWindow = fc.Stack.HotWindow
	}

	b := &rc.bench
	setInt(&b.Ops, fc.Bench.Ops)
	setInt(&b.Warmup, fc.Bench.Warmup)
	setInt(&b.DumpDepth, fc.Bench.DumpDepth)
	if fc.Bench.Seed != 0 {
		b.Seed = fc.Bench.Seed
	}

	if fc.Results.DB != "" {
		rc.dbPath = fc.Results.DB
	}
	rc.json = rc.json || fc.Results.JSON
	return nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// ════════════════════════════════════════════════════════════════════════════════════════════════
// NUMA Stack Benchmark - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Benchmark Orchestration
//
// Description:
//   Builds a NUMA-placed elimination/combining stack for this host, runs the thread-scaling
//   workload against it, prints one line per phase, and records the run.
//
// Phases:
//   - Setup: GOMAXPROCS from the cgroup quota, topology discovery, configuration
//   - Run: 1, 2, 4, … threads, each phase cleared, timed and checked for conservation
//   - Report: console summary, sqlite record, optional JSON document on stdout
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"numastack/bench"
	"numastack/debug"
	"numastack/results"
	"numastack/stack"
)

func main() {
	debug.SetLogger(debug.Console(os.Stderr, zerolog.InfoLevel))
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		debug.DropError("FATAL", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	rc, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	log := debug.Console(stderr, zerolog.InfoLevel)
	debug.SetLogger(log)
	rc.stack.Logger = log
	rc.bench.Logger = log

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		debug.DropMessage("MAXPROCS", fmt.Sprintf(format, a...))
	}))
	if err != nil {
		debug.DropError("MAXPROCS", err)
	}
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := stack.New(rc.stack)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.Config()
	host, _ := os.Hostname()
	rec := results.Run{
		Started:    time.Now(),
		Host:       host,
		NumaNodes:  cfg.NumaNodes,
		CPUs:       cfg.CPUs,
		MaxThreads: rc.bench.MaxThreads,
		Ops:        rc.bench.Ops,
		Pinned:     cfg.Pin,
	}

	phases, runErr := bench.New(s, rc.bench).Run(ctx)
	rec.Phases = phases
	for _, p := range phases {
		fmt.Fprintf(stdout, "%d Result : %v\n", len(p.Top), p.Top)
		fmt.Fprintf(stdout, "%d Threads, Time = %dms\n", p.Threads, p.Elapsed.Milliseconds())
	}
	if runErr != nil && len(phases) == 0 {
		return runErr
	}

	if rc.dbPath != "" {
		store, err := results.Open(rc.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.RecordRun(context.Background(), &rec); err != nil {
			return err
		}
	}
	if rc.json {
		if err := results.WriteJSON(stdout, rec); err != nil {
			return err
		}
	}
	return runErr
}

func parseArgs(args []string, stderr io.Writer) (runConfig, error) {
	rc := defaultRunConfig()

	fs := flag.NewFlagSet("numastack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "TOML configuration file")
	threads := fs.Int("threads", 0, "largest thread count to run (default: stack max threads)")
	ops := fs.Int("ops", 0, "operations per phase, split across threads")
	db := fs.String("db", "", "sqlite file to record the run in; \"-\" disables recording")
	asJSON := fs.Bool("json", false, "print the run as JSON")
	pin := fs.String("pin", "", "override thread pinning: true or false")
	if err := fs.Parse(args); err != nil {
		return rc, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &rc); err != nil {
			return rc, err
		}
	}

	rc.bench.MaxThreads = rc.stack.MaxThreads
	if *threads > 0 {
		rc.bench.MaxThreads = *threads
	}
	if *ops > 0 {
		rc.bench.Ops = *ops
	}
	switch *db {
	case "":
	case "-":
		rc.dbPath = ""
	default:
		rc.dbPath = *db
	}
	rc.json = rc.json || *asJSON
	switch *pin {
	case "":
	case "true":
		rc.stack.Pin = true
	case "false":
		rc.stack.Pin = false
	default:
		return rc, fmt.Errorf("-pin: want true or false, got %q", *pin)
	}
	return rc, nil
}

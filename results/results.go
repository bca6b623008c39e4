// ════════════════════════════════════════════════════════════════════════════════════════════════
// Benchmark Run Store
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Run/Phase Persistence & JSON Reports
//
// Description:
//   Records every benchmark run and its per-thread-count phases in a sqlite database so runs on
//   different hosts and placements can be compared later, and renders a run as a JSON report.
//
// Schema:
//   runs(id, started_at, host, numa_nodes, cpus, max_threads, ops, pinned)
//   phases(run_id, threads, ops, elapsed_ns, eliminated, timeouts, collisions, combined,
//          remaining, top_json)
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package results

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"

	"numastack/debug"
)

// Run is one invocation of the benchmark driver.
type Run struct {
	ID         int64     `json:"id"`
	Started    time.Time `json:"started"`
	Host       string    `json:"host"`
	NumaNodes  int       `json:"numa_nodes"`
	CPUs       int       `json:"cpus"`
	MaxThreads int       `json:"max_threads"`
	Ops        int       `json:"ops"`
	Pinned     bool      `json:"pinned"`
	Phases     []Phase   `json:"phases"`
}

// Phase is one thread count of a run.
type Phase struct {
	Threads    int           `json:"threads"`
	Ops        int64         `json:"ops"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Eliminated uint64        `json:"eliminated"`
	Timeouts   uint64        `json:"timeouts"`
	Collisions uint64        `json:"collisions"`
	Combined   uint64        `json:"combined"`
	Remaining  int           `json:"remaining"`
	Top        []int32       `json:"top"`
}

// OpsPerSecond returns the phase throughput.
func (p Phase) OpsPerSecond() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Ops) / p.Elapsed.Seconds()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STORE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Store persists runs in one sqlite file.
type Store struct {
	db          *sql.DB
	insertPhase *sql.Stmt
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	host        TEXT    NOT NULL,
	numa_nodes  INTEGER NOT NULL,
	cpus        INTEGER NOT NULL,
	max_threads INTEGER NOT NULL,
	ops         INTEGER NOT NULL,
	pinned      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS phases (
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	threads    INTEGER NOT NULL,
	ops        INTEGER NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	eliminated INTEGER NOT NULL,
	timeouts   INTEGER NOT NULL,
	collisions INTEGER NOT NULL,
	combined   INTEGER NOT NULL,
	remaining  INTEGER NOT NULL,
	top_json   TEXT    NOT NULL,
	PRIMARY KEY (run_id, threads)
) WITHOUT ROWID;
`

// Open opens or creates the database at path and prepares the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("results: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: connect %s: %w", path, err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("results: schema: %w", err)
	}
	insert, err := db.Prepare(`
		INSERT INTO phases (run_id, threads, ops, elapsed_ns, eliminated, timeouts,
		                    collisions, combined, remaining, top_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("results: prepare: %w", err)
	}
	return &Store{db: db, insertPhase: insert}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("results: %s: %w", p, err)
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.insertPhase.Close()
	return s.db.Close()
}

// RecordRun stores run and its phases in one transaction and sets run.ID.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("results: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, host, numa_nodes, cpus, max_threads, ops, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Started.UnixNano(), run.Host, run.NumaNodes, run.CPUs, run.MaxThreads, run.Ops, run.Pinned)
	if err != nil {
		return fmt.Errorf("results: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("results: run id: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.insertPhase)
	for _, p := range run.Phases {
		top, err := sonnet.Marshal(p.Top)
		if err != nil {
			return fmt.Errorf("results: encode top: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, p.Threads, p.Ops, int64(p.Elapsed),
			p.Eliminated, p.Timeouts, p.Collisions, p.Combined, p.Remaining, string(top)); err != nil {
			return fmt.Errorf("results: insert phase %d: %w", p.Threads, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("results: commit: %w", err)
	}
	run.ID = id
	debug.DropMessage("RUN_RECORDED", fmt.Sprintf("run %d with %d phases", id, len(run.Phases)))
	return nil
}

// Runs returns the most recent runs, newest first, with their phases.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, host, numa_nodes, cpus, max_threads, ops, pinned
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("results: query runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.ID, &started, &r.Host, &r.NumaNodes, &r.CPUs, &r.MaxThreads, &r.Ops, &r.Pinned); err != nil {
			rows.Close()
			return nil, fmt.Errorf("results: scan run: %w", err)
		}
		r.Started = time.Unix(0, started)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		if runs[i].Phases, err = s.phases(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) phases(ctx context.Context, runID int64) ([]Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT threads, ops, elapsed_ns, eliminated, timeouts, collisions, combined, remaining, top_json
		FROM phases WHERE run_id = ? ORDER BY threads`, runID)
	if err != nil {
		return nil, fmt.Errorf("results: query phases: %w", err)
	}
	defer rows.Close()

	var out []Phase
	for rows.Next() {
		var p Phase
		var elapsed int64
		var top string
		if err := rows.Scan(&p.Threads, &p.Ops, &elapsed, &p.Eliminated, &p.Timeouts,
			&p.Collisions, &p.Combined, &p.Remaining, &top); err != nil {
			return nil, fmt.Errorf("results: scan phase: %w", err)
		}
		p.Elapsed = time.Duration(elapsed)
		if err := sonnet.Unmarshal([]byte(top), &p.Top); err != nil {
			return nil, fmt.Errorf("results: decode top: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// JSON REPORTS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// WriteJSON writes run as one JSON document followed by a newline.
func WriteJSON(w io.Writer, run Run) error {
	b, err := sonnet.Marshal(run)
	if err != nil {
		return fmt.Errorf("results: encode run: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// ReadJSON parses a report written by WriteJSON.
func ReadJSON(data []byte) (Run, error) {
	var run Run
	if err := sonnet.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("results: decode run: %w", err)
	}
	return run, nil
}

// Package indexdb maintains an advisory SQLite index over run artifacts:
// which runs exist, where their checkpoints live, and coarse per-tick field
// statistics for querying without decompressing the artifact files. The
// files on disk remain the source of truth; rows dropped under load are an
// acceptable loss.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"terrarium.sim/internal/sim/metrics"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqCheckpoint
	reqFieldStat
	reqSealed
)

type req struct {
	kind reqKind

	run        RunRow
	checkpoint CheckpointRow
	stat       metrics.FieldStat

	runID  string
	ticks  uint64
	sealed string
}

// RunRow describes one simulation run.
type RunRow struct {
	RunID        string
	Label        string
	ScenarioHash string
	Seed         int64
	Height       int
	Width        int
	Fields       int
	Dir          string
	StartedAt    string
}

// CheckpointRow points at one full-tensor checkpoint file.
type CheckpointRow struct {
	RunID string
	Tick  uint64
	Path  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Sized for a full run of per-tick stat rows without stalling the sim.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			scenario_hash TEXT NOT NULL,
			seed INTEGER NOT NULL,
			height INTEGER NOT NULL,
			width INTEGER NOT NULL,
			fields INTEGER NOT NULL,
			dir TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ticks INTEGER NOT NULL DEFAULT 0,
			sealed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario_hash);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS field_stats (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			field TEXT NOT NULL,
			mean REAL NOT NULL,
			var REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			PRIMARY KEY (run_id, tick, field)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_field_stats_field ON field_stats(run_id, field, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRun registers a run. Safe on a nil index.
func (s *SQLiteIndex) RecordRun(r RunRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	default:
		// Drop if the indexer falls behind; artifact files remain the source of truth.
	}
}

func (s *SQLiteIndex) RecordCheckpoint(c CheckpointRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCheckpoint, checkpoint: c}:
	default:
	}
}

func (s *SQLiteIndex) RecordFieldStat(runID string, st metrics.FieldStat) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFieldStat, runID: runID, stat: st}:
	default:
	}
}

// RecordSealed marks a run complete with its final tick count.
func (s *SQLiteIndex) RecordSealed(runID string, ticks uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSealed, runID: runID, ticks: ticks,
		sealed: time.Now().UTC().Format(time.RFC3339Nano)}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,label,scenario_hash,seed,height,width,fields,dir,started_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(run_id,tick,path) VALUES(?,?,?)`)
	insertStat, _ := s.db.Prepare(`INSERT OR REPLACE INTO field_stats(run_id,tick,field,mean,var,min,max) VALUES(?,?,?,?,?,?,?)`)
	updateSealed, _ := s.db.Prepare(`UPDATE runs SET ticks=?, sealed_at=? WHERE run_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertCheckpoint, insertStat, updateSealed} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(
					r.run.RunID, r.run.Label, r.run.ScenarioHash, r.run.Seed,
					r.run.Height, r.run.Width, r.run.Fields, r.run.Dir, r.run.StartedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			// Run rows are rare and referenced by everything after them.
			commit()

		case reqCheckpoint:
			if insertCheckpoint != nil {
				if _, err := tx.Stmt(insertCheckpoint).Exec(
					r.checkpoint.RunID, int64(r.checkpoint.Tick), r.checkpoint.Path,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqFieldStat:
			if insertStat != nil {
				if _, err := tx.Stmt(insertStat).Exec(
					r.runID, int64(r.stat.Tick), r.stat.Field,
					r.stat.Mean, r.stat.Var, r.stat.Min, r.stat.Max,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSealed:
			if updateSealed != nil {
				if _, err := tx.Stmt(updateSealed).Exec(int64(r.ticks), r.sealed, r.runID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			commit()
		}
		flushIfNeeded()
	}

	commit()
}

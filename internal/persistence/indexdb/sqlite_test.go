package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"terrarium.sim/internal/sim/metrics"
)

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	idx.RecordRun(RunRow{
		RunID:        "run-1",
		Label:        "meadow",
		ScenarioHash: "abc123",
		Seed:         42,
		Height:       64,
		Width:        64,
		Fields:       4,
		Dir:          "/tmp/run-1",
		StartedAt:    "2026-01-01T00:00:00Z",
	})
	idx.RecordCheckpoint(CheckpointRow{RunID: "run-1", Tick: 100, Path: "grid/cp_000100.bin.zst"})
	idx.RecordFieldStat("run-1", metrics.FieldStat{Tick: 1, Field: "temperature", Mean: 0.5, Var: 0.01, Min: 0.1, Max: 0.9})
	idx.RecordSealed("run-1", 100)

	// Close drains the channel and commits.
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var ticks int64
	var sealed sql.NullString
	if err := db.QueryRow(`SELECT ticks, sealed_at FROM runs WHERE run_id='run-1'`).Scan(&ticks, &sealed); err != nil {
		t.Fatalf("query run: %v", err)
	}
	if ticks != 100 || !sealed.Valid {
		t.Fatalf("run row not sealed: ticks=%d sealed=%v", ticks, sealed)
	}

	var cpPath string
	if err := db.QueryRow(`SELECT path FROM checkpoints WHERE run_id='run-1' AND tick=100`).Scan(&cpPath); err != nil {
		t.Fatalf("query checkpoint: %v", err)
	}
	if cpPath != "grid/cp_000100.bin.zst" {
		t.Fatalf("checkpoint path = %q", cpPath)
	}

	var mean float64
	if err := db.QueryRow(`SELECT mean FROM field_stats WHERE run_id='run-1' AND tick=1 AND field='temperature'`).Scan(&mean); err != nil {
		t.Fatalf("query stat: %v", err)
	}
	if mean != 0.5 {
		t.Fatalf("mean = %v", mean)
	}
}

func TestNilIndexIsSafe(t *testing.T) {
	var idx *SQLiteIndex
	idx.RecordRun(RunRow{RunID: "x"})
	idx.RecordCheckpoint(CheckpointRow{})
	idx.RecordFieldStat("x", metrics.FieldStat{})
	idx.RecordSealed("x", 1)
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx.RecordSealed("late", 1)
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

package hydrate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"terrarium.sim/internal/persistence/artifact"
	"terrarium.sim/internal/persistence/delta"
	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/gen"
	"terrarium.sim/internal/sim/grid"
	"terrarium.sim/internal/simerr"
)

const hydrateYAML = `
world:
  width: 16
  height: 16
randomness:
  seed: 11
fields:
  - name: temperature
    bounds: [0.0, 1.0]
  - name: hydration
    bounds: [0.0, 1.0]
outputs:
  checkpoint_every: 4
  metrics_cadence: 2
`

// writeRun produces a small sealed run and returns the live tensor at
// every tick, index 0 being the initial grid.
func writeRun(t *testing.T, dir string, ticks int) []*grid.Tensor {
	t.Helper()
	cfg, err := scenario.Parse([]byte(hydrateYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, err := field.Build(cfg.Fields)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s, err := artifact.Create(dir, "hydrate-test", cfg, reg, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cur, _, err := gen.Generate(cfg, reg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := s.WriteInitial(cur); err != nil {
		t.Fatalf("initial: %v", err)
	}

	history := []*grid.Tensor{cur.Clone()}
	for tick := uint64(1); tick <= uint64(ticks); tick++ {
		next := cur.Clone()
		// Touch a few cells so every frame is non-trivial.
		next.Set(int(tick)%16, int(2*tick)%16, 0, float32(tick)/float32(ticks+1))
		next.Set(int(3*tick)%16, int(tick)%16, 1, 1.0-float32(tick)/float32(ticks+1))
		rec, err := delta.Diff(tick, cur, next)
		if err != nil {
			t.Fatalf("diff: %v", err)
		}
		if err := s.AppendTick(tick, next, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		cur = next
		history = append(history, cur.Clone())
	}
	if err := s.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return history
}

func TestReconstructMatchesLiveRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	history := writeRun(t, dir, 10)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if r.Ticks() != 10 {
		t.Fatalf("ticks = %d, want 10", r.Ticks())
	}
	for _, tick := range []uint64{0, 1, 3, 4, 7, 10} {
		got, err := r.Reconstruct(tick)
		if err != nil {
			t.Fatalf("reconstruct %d: %v", tick, err)
		}
		if !got.Equal(history[tick]) {
			t.Errorf("tick %d: reconstruction differs from live grid", tick)
		}
	}
}

func TestReconstructBeyondRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	writeRun(t, dir, 5)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Reconstruct(6); !errors.Is(err, simerr.ErrNotFound) {
		t.Fatalf("expected not-found past end of run, got %v", err)
	}
}

func TestFlippedByteIsCorruption(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	writeRun(t, dir, 6)

	path := filepath.Join(dir, "deltas.bin.zst")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b[len(b)/2] ^= 0x01
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Reconstruct(3); !errors.Is(err, simerr.ErrCorruption) {
		t.Fatalf("expected corruption after byte flip, got %v", err)
	}
}

func TestMissingCheckpointIsNotFound(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	writeRun(t, dir, 8)
	if err := os.Remove(filepath.Join(dir, "grid", "cp_000004.bin.zst")); err != nil {
		t.Fatal(err)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Reconstruct(5); !errors.Is(err, simerr.ErrNotFound) {
		t.Fatalf("expected not-found for deleted checkpoint, got %v", err)
	}
}

func TestOpenMissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, simerr.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

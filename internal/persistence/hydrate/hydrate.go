// Package hydrate reconstructs the grid at any recorded tick of a sealed
// run. Reconstruction is bit-exact: it loads the nearest checkpoint at or
// before the requested tick and replays delta frames forward.
package hydrate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"terrarium.sim/internal/persistence/artifact"
	"terrarium.sim/internal/persistence/checkpoint"
	"terrarium.sim/internal/persistence/delta"
	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/simerr"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
)

// Run is a read handle on one run directory.
type Run struct {
	dir      string
	manifest artifact.Manifest
	cfg      *scenario.Config
	reg      *field.Registry
}

// Open loads and verifies a run's manifest and scenario.
func Open(dir string) (*Run, error) {
	m, err := artifact.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	scenPath := filepath.Join(dir, "scenario.yaml")
	if err := verifyChecksum(dir, scenPath); err != nil {
		return nil, err
	}
	cfg, err := scenario.Load(scenPath)
	if err != nil {
		return nil, err
	}
	if m.ScenarioHash != "" && cfg.Hash != m.ScenarioHash {
		return nil, fmt.Errorf("%w: scenario hash %s does not match manifest %s",
			simerr.ErrCorruption, cfg.Hash, m.ScenarioHash)
	}
	reg, err := field.Build(cfg.Fields)
	if err != nil {
		return nil, err
	}
	return &Run{dir: dir, manifest: m, cfg: cfg, reg: reg}, nil
}

func (r *Run) Manifest() artifact.Manifest { return r.manifest }
func (r *Run) Config() *scenario.Config    { return r.cfg }
func (r *Run) Registry() *field.Registry   { return r.reg }

// Ticks returns the last recorded tick; valid reconstruction targets are
// 0 through Ticks inclusive.
func (r *Run) Ticks() uint64 { return r.manifest.Ticks }

// Reconstruct returns the grid exactly as it was at the given tick.
func (r *Run) Reconstruct(tick uint64) (*grid.Tensor, error) {
	if tick > r.manifest.Ticks {
		return nil, fmt.Errorf("%w: tick %d beyond recorded run of %d ticks",
			simerr.ErrNotFound, tick, r.manifest.Ticks)
	}

	base, baseTick, err := r.loadBase(tick)
	if err != nil {
		return nil, err
	}
	if baseTick == tick {
		return base, nil
	}
	if err := r.replayDeltas(base, baseTick, tick); err != nil {
		return nil, err
	}
	return base, nil
}

// loadBase picks the latest checkpoint at or before tick.
func (r *Run) loadBase(tick uint64) (*grid.Tensor, uint64, error) {
	baseTick := uint64(0)
	path := filepath.Join(r.dir, "grid", "initial.bin.zst")
	if every := r.manifest.CheckpointEvery; every > 0 && tick >= uint64(every) {
		baseTick = tick - tick%uint64(every)
		if baseTick > 0 {
			path = filepath.Join(r.dir, "grid", fmt.Sprintf("cp_%06d.bin.zst", baseTick))
		}
	}
	if err := verifyChecksum(r.dir, path); err != nil {
		return nil, 0, err
	}
	cp, err := checkpoint.Read(path)
	if err != nil {
		return nil, 0, err
	}
	if cp.Header.Tick != baseTick {
		return nil, 0, fmt.Errorf("%w: checkpoint %s claims tick %d, expected %d",
			simerr.ErrCorruption, filepath.Base(path), cp.Header.Tick, baseTick)
	}
	t, err := cp.Tensor()
	if err != nil {
		return nil, 0, err
	}
	if t.H != r.manifest.Height || t.W != r.manifest.Width || t.F != len(r.manifest.Fields) {
		return nil, 0, fmt.Errorf("%w: checkpoint shape %dx%dx%d does not match manifest",
			simerr.ErrCorruption, t.H, t.W, t.F)
	}
	return t, baseTick, nil
}

// replayDeltas applies frames in (from, to] onto t.
func (r *Run) replayDeltas(t *grid.Tensor, from, to uint64) error {
	path := filepath.Join(r.dir, "deltas.bin.zst")
	if err := verifyChecksum(r.dir, path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: delta log", simerr.ErrNotFound)
		}
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: delta log: %v", simerr.ErrCorruption, err)
	}
	defer dec.Close()

	want := uint64(1)
	for {
		rec, err := delta.ReadFrame(dec)
		if err == io.EOF {
			return fmt.Errorf("%w: delta log ends at tick %d, need %d",
				simerr.ErrCorruption, want-1, to)
		}
		if err != nil {
			return err
		}
		if rec.Tick != want {
			return fmt.Errorf("%w: delta log tick %d where %d expected",
				simerr.ErrCorruption, rec.Tick, want)
		}
		want++
		if rec.Tick <= from {
			continue
		}
		if err := rec.Apply(t); err != nil {
			return err
		}
		if rec.Tick == to {
			return nil
		}
	}
}

// verifyChecksum checks a file against its seal-time checksum. A missing
// checksum file on a sealed run, or any digest mismatch, is corruption.
func verifyChecksum(dir, path string) error {
	base := filepath.Base(path)
	b, err := os.ReadFile(filepath.Join(dir, "checksums", base+".sha256"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Unsealed runs have no checksums yet; skip verification.
			if m, merr := artifact.ReadManifest(dir); merr == nil && m.SealedAt == "" {
				return nil
			}
			return fmt.Errorf("%w: missing checksum for %s", simerr.ErrCorruption, base)
		}
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	fields := strings.Fields(string(b))
	if len(fields) < 1 {
		return fmt.Errorf("%w: empty checksum file for %s", simerr.ErrCorruption, base)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", simerr.ErrNotFound, base)
	}
	got, err := artifact.HashFile(path)
	if err != nil {
		return err
	}
	if got != fields[0] {
		return fmt.Errorf("%w: %s digest %s does not match recorded %s",
			simerr.ErrCorruption, base, got, fields[0])
	}
	return nil
}

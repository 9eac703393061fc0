// Package artifact owns the on-disk layout of a simulation run: manifest,
// resolved scenario, initial grid, periodic checkpoints, the delta log,
// metrics tables, the event stream, and seal-time checksums.
//
// Layout under the run directory:
//
//	manifest.json
//	scenario.yaml
//	grid/initial.bin.zst
//	grid/cp_000100.bin.zst ...
//	deltas.bin.zst
//	metrics/field_stats.csv
//	metrics/structure.csv
//	metrics/hydrology.csv
//	events.jsonl.zst
//	checksums/<basename>.sha256
//	index.db (advisory, never checksummed)
package artifact

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"terrarium.sim/internal/persistence/checkpoint"
	"terrarium.sim/internal/persistence/delta"
	"terrarium.sim/internal/persistence/indexdb"
	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/simerr"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
	"terrarium.sim/internal/sim/metrics"
)

const manifestVersion = 1

// Manifest identifies a run and how to read its files.
type Manifest struct {
	Version      int      `json:"version"`
	RunID        string   `json:"run_id"`
	Label        string   `json:"label,omitempty"`
	ScenarioHash string   `json:"scenario_hash"`
	Seed         int64    `json:"seed"`
	Height       int      `json:"height"`
	Width        int      `json:"width"`
	Fields       []string `json:"fields"`

	CheckpointEvery int `json:"checkpoint_every"`
	MetricsCadence  int `json:"metrics_cadence"`

	CreatedAt string `json:"created_at"`
	Ticks     uint64 `json:"ticks"`
	SealedAt  string `json:"sealed_at,omitempty"`
}

// Event is one row of the run's event stream.
type Event struct {
	Tick uint64 `json:"tick"`
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

// Store is the append side of a run directory. Not safe for concurrent use;
// the engine drives it from the tick loop.
type Store struct {
	dir      string
	manifest Manifest

	cfg *scenario.Config
	reg *field.Registry

	deltaFile *os.File
	deltaEnc  *zstd.Encoder

	fieldStatsF *os.File
	structureF  *os.File
	hydrologyF  *os.File
	wroteHeader map[string]bool

	eventsFile *os.File
	eventsEnc  *zstd.Encoder
	eventsBuf  *bufio.Writer

	index *indexdb.SQLiteIndex

	lastTick uint64
	sealed   bool
}

// Create prepares a run directory. An existing directory is refused unless
// overwrite is set, in which case it is removed first.
func Create(dir, label string, cfg *scenario.Config, reg *field.Registry, overwrite bool) (*Store, error) {
	if _, err := os.Stat(dir); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: run directory %s already exists", simerr.ErrStorage, dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("%w: clear run directory: %v", simerr.ErrStorage, err)
		}
	}
	for _, sub := range []string{"grid", "metrics", "checksums"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
	}

	s := &Store{
		dir: dir,
		cfg: cfg,
		reg: reg,
		manifest: Manifest{
			Version:         manifestVersion,
			RunID:           uuid.NewString(),
			Label:           label,
			ScenarioHash:    cfg.Hash,
			Seed:            cfg.Randomness.Seed,
			Height:          cfg.World.Height,
			Width:           cfg.World.Width,
			Fields:          reg.Names(),
			CheckpointEvery: cfg.Outputs.CheckpointEvery,
			MetricsCadence:  cfg.Outputs.MetricsCadence,
			CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		},
		wroteHeader: map[string]bool{},
	}

	if err := s.writeManifest(); err != nil {
		return nil, err
	}
	// Keep the source document byte for byte so a hydrated run re-parses to
	// the same resolved config and content hash.
	if err := os.WriteFile(filepath.Join(dir, "scenario.yaml"), cfg.Raw, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}

	var err error
	s.deltaFile, err = os.OpenFile(filepath.Join(dir, "deltas.bin.zst"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	s.deltaEnc, err = zstd.NewWriter(s.deltaFile, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = s.deltaFile.Close()
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}

	open := func(name string) (*os.File, error) {
		return os.OpenFile(filepath.Join(dir, "metrics", name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	}
	if s.fieldStatsF, err = open("field_stats.csv"); err != nil {
		s.closeWriters()
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	if s.structureF, err = open("structure.csv"); err != nil {
		s.closeWriters()
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	if s.hydrologyF, err = open("hydrology.csv"); err != nil {
		s.closeWriters()
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}

	s.eventsFile, err = os.OpenFile(filepath.Join(dir, "events.jsonl.zst"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.closeWriters()
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	s.eventsEnc, err = zstd.NewWriter(s.eventsFile, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		s.closeWriters()
		return nil, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	s.eventsBuf = bufio.NewWriter(s.eventsEnc)
	return s, nil
}

func (s *Store) RunID() string      { return s.manifest.RunID }
func (s *Store) Dir() string        { return s.dir }
func (s *Store) Manifest() Manifest { return s.manifest }

// AttachIndex wires an advisory SQLite index; nil detaches it.
func (s *Store) AttachIndex(idx *indexdb.SQLiteIndex) {
	s.index = idx
	idx.RecordRun(indexdb.RunRow{
		RunID:        s.manifest.RunID,
		Label:        s.manifest.Label,
		ScenarioHash: s.manifest.ScenarioHash,
		Seed:         s.manifest.Seed,
		Height:       s.manifest.Height,
		Width:        s.manifest.Width,
		Fields:       s.reg.Len(),
		Dir:          s.dir,
		StartedAt:    s.manifest.CreatedAt,
	})
}

// WriteInitial persists the tick-0 tensor as the base checkpoint.
func (s *Store) WriteInitial(t *grid.Tensor) error {
	return s.writeCheckpoint(filepath.Join(s.dir, "grid", "initial.bin.zst"), 0, t)
}

// AppendTick records one simulated tick: its delta frame, metrics rows at
// the configured cadence, and a full checkpoint at checkpoint boundaries.
func (s *Store) AppendTick(tick uint64, t *grid.Tensor, rec delta.Record) error {
	if s.sealed {
		return fmt.Errorf("%w: store is sealed", simerr.ErrState)
	}
	if tick != s.lastTick+1 {
		return fmt.Errorf("%w: tick %d appended after %d", simerr.ErrState, tick, s.lastTick)
	}
	if err := delta.WriteFrame(s.deltaEnc, rec); err != nil {
		return err
	}
	if err := s.deltaEnc.Flush(); err != nil {
		return fmt.Errorf("%w: flush delta log: %v", simerr.ErrStorage, err)
	}
	s.lastTick = tick

	if cad := s.manifest.MetricsCadence; cad > 0 && tick%uint64(cad) == 0 {
		if err := s.writeMetrics(tick, t); err != nil {
			return err
		}
	}
	if every := s.manifest.CheckpointEvery; every > 0 && tick%uint64(every) == 0 {
		name := fmt.Sprintf("cp_%06d.bin.zst", tick)
		if err := s.writeCheckpoint(filepath.Join(s.dir, "grid", name), tick, t); err != nil {
			return err
		}
		s.index.RecordCheckpoint(indexdb.CheckpointRow{
			RunID: s.manifest.RunID,
			Tick:  tick,
			Path:  filepath.Join("grid", name),
		})
	}
	return nil
}

// WriteHydrology appends one hydrology summary row.
func (s *Store) WriteHydrology(row metrics.HydrologyStat) error {
	return s.appendCSV(s.hydrologyF, "hydrology", &[]metrics.HydrologyStat{row})
}

// LogEvent appends one event to the run's event stream.
func (s *Store) LogEvent(ev Event) error {
	if s.sealed {
		return fmt.Errorf("%w: store is sealed", simerr.ErrState)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", simerr.ErrStorage, err)
	}
	if _, err := s.eventsBuf.Write(b); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	if err := s.eventsBuf.WriteByte('\n'); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	return nil
}

// Seal flushes and closes every writer, computes per-file checksums, and
// stamps the manifest with the final tick count. The store is unusable
// afterwards.
func (s *Store) Seal() error {
	if s.sealed {
		return nil
	}
	s.sealed = true

	if err := s.closeWriters(); err != nil {
		return err
	}

	s.manifest.Ticks = s.lastTick
	s.manifest.SealedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.writeManifest(); err != nil {
		return err
	}
	if err := s.writeChecksums(); err != nil {
		return err
	}
	s.index.RecordSealed(s.manifest.RunID, s.lastTick)
	return nil
}

func (s *Store) writeCheckpoint(path string, tick uint64, t *grid.Tensor) error {
	return checkpoint.Write(path, checkpoint.CheckpointV1{
		Header: checkpoint.Header{Version: 1, RunID: s.manifest.RunID, Tick: tick},
		Height: t.H,
		Width:  t.W,
		Fields: t.F,
		Names:  s.reg.Names(),
		Data:   t.Data,
	})
}

func (s *Store) writeMetrics(tick uint64, t *grid.Tensor) error {
	fs := metrics.FieldStats(tick, t, s.reg)
	if err := s.appendCSV(s.fieldStatsF, "field_stats", &fs); err != nil {
		return err
	}
	for _, row := range fs {
		s.index.RecordFieldStat(s.manifest.RunID, row)
	}
	ss := metrics.StructureStats(tick, t, s.reg)
	return s.appendCSV(s.structureF, "structure", &ss)
}

// appendCSV writes the header with the first batch only, then bare rows.
func (s *Store) appendCSV(f *os.File, key string, rows any) error {
	var err error
	if !s.wroteHeader[key] {
		err = gocsv.Marshal(rows, f)
		s.wroteHeader[key] = true
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, f)
	}
	if err != nil {
		return fmt.Errorf("%w: append %s metrics: %v", simerr.ErrStorage, key, err)
	}
	return nil
}

func (s *Store) writeManifest() error {
	return writeJSON(filepath.Join(s.dir, "manifest.json"), s.manifest)
}

func (s *Store) closeWriters() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
	}
	if s.deltaEnc != nil {
		keep(s.deltaEnc.Close())
		s.deltaEnc = nil
	}
	if s.deltaFile != nil {
		keep(s.deltaFile.Close())
		s.deltaFile = nil
	}
	if s.eventsBuf != nil {
		keep(s.eventsBuf.Flush())
		s.eventsBuf = nil
	}
	if s.eventsEnc != nil {
		keep(s.eventsEnc.Close())
		s.eventsEnc = nil
	}
	if s.eventsFile != nil {
		keep(s.eventsFile.Close())
		s.eventsFile = nil
	}
	for _, f := range []**os.File{&s.fieldStatsF, &s.structureF, &s.hydrologyF} {
		if *f != nil {
			keep((*f).Close())
			*f = nil
		}
	}
	return firstErr
}

// writeChecksums hashes every artifact file into checksums/. The manifest
// and the advisory index are excluded: the manifest is rewritten at seal
// time and the index is reproducible from the files it summarizes.
func (s *Store) writeChecksums() error {
	var files []string
	for _, name := range []string{"scenario.yaml", "deltas.bin.zst", "events.jsonl.zst"} {
		files = append(files, filepath.Join(s.dir, name))
	}
	for _, sub := range []string{"grid", "metrics"} {
		entries, err := os.ReadDir(filepath.Join(s.dir, sub))
		if err != nil {
			return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(s.dir, sub, e.Name()))
			}
		}
	}
	for _, path := range files {
		sum, err := HashFile(path)
		if err != nil {
			return err
		}
		base := filepath.Base(path)
		line := fmt.Sprintf("%s  %s\n", sum, base)
		out := filepath.Join(s.dir, "checksums", base+".sha256")
		if err := os.WriteFile(out, []byte(line), 0o644); err != nil {
			return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
		}
	}
	return nil
}

// HashFile returns the hex sha256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	return nil
}

// ReadManifest loads a run directory's manifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return m, fmt.Errorf("%w: no manifest in %s", simerr.ErrNotFound, dir)
		}
		return m, fmt.Errorf("%w: %v", simerr.ErrStorage, err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: manifest: %v", simerr.ErrCorruption, err)
	}
	if m.Version != manifestVersion {
		return m, fmt.Errorf("%w: manifest version %d", simerr.ErrCorruption, m.Version)
	}
	return m, nil
}

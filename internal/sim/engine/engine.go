// Package engine drives a complete simulation run: generate the tick-0
// grid, step the kernel pipeline for the requested number of ticks, and
// stream every tick into the run's artifact store. The loop is single
// threaded; determinism comes from doing exactly the same work in exactly
// the same order for a given scenario.
package engine

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"terrarium.sim/internal/feed"
	"terrarium.sim/internal/persistence/artifact"
	"terrarium.sim/internal/persistence/delta"
	"terrarium.sim/internal/persistence/indexdb"
	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/gen"
	"terrarium.sim/internal/sim/grid"
	"terrarium.sim/internal/sim/kernel"
	"terrarium.sim/internal/sim/metrics"
	"terrarium.sim/internal/simerr"
)

type Options struct {
	Ticks     uint64
	OutDir    string
	Label     string
	Overwrite bool

	// Optional attachments. All of them tolerate being nil.
	Index  *indexdb.SQLiteIndex
	Feed   *feed.Server
	Logger *log.Logger

	// WithIndex opens index.db inside the run directory once the store
	// exists, for callers that don't manage their own index handle.
	WithIndex bool

	// OnTick observes the live tensor after each tick, including tick 0.
	// The tensor is the engine's working copy; callers must clone what
	// they keep.
	OnTick func(tick uint64, t *grid.Tensor)
}

type Result struct {
	RunID string
	Dir   string
	Ticks uint64
}

type tickMsg struct {
	Kind  string  `json:"kind"`
	Tick  uint64  `json:"tick"`
	Cells int     `json:"changed_cells"`
	Of    uint64  `json:"of"`
	Run   string  `json:"run_id"`
}

// Run executes one full simulation run and seals the artifact directory.
func Run(ctx context.Context, cfg *scenario.Config, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	reg, err := field.Build(cfg.Fields)
	if err != nil {
		return nil, err
	}
	cur, terrain, err := gen.Generate(cfg, reg)
	if err != nil {
		return nil, err
	}
	kernel.RecomputeDerived(cur, reg)

	store, err := artifact.Create(opts.OutDir, opts.Label, cfg, reg, opts.Overwrite)
	if err != nil {
		return nil, err
	}
	index := opts.Index
	if index == nil && opts.WithIndex {
		index, err = indexdb.OpenSQLite(filepath.Join(store.Dir(), "index.db"))
		if err != nil {
			// The index is advisory; never let it block a run.
			logger.Printf("run: sqlite index unavailable: %v", err)
			index = nil
		} else {
			defer func() {
				if err := index.Close(); err != nil {
					logger.Printf("run: sqlite index close: %v", err)
				}
			}()
		}
	}
	store.AttachIndex(index)

	logger.Printf("run %s: scenario %s, %dx%d grid, %d fields, %d ticks",
		store.RunID(), cfg.Hash, cfg.World.Width, cfg.World.Height, reg.Len(), opts.Ticks)

	if err := store.WriteInitial(cur); err != nil {
		return nil, err
	}
	if err := store.LogEvent(artifact.Event{Tick: 0, Kind: "run_started", Data: map[string]any{
		"scenario_hash": cfg.Hash,
		"seed":          cfg.Randomness.Seed,
		"ticks":         opts.Ticks,
	}}); err != nil {
		return nil, err
	}
	if err := writeHydrology(store, 0, terrain); err != nil {
		return nil, err
	}
	if opts.OnTick != nil {
		opts.OnTick(0, cur)
	}

	for tick := uint64(1); tick <= opts.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			_ = store.LogEvent(artifact.Event{Tick: tick - 1, Kind: "run_aborted"})
			if serr := store.Seal(); serr != nil {
				return nil, serr
			}
			return nil, fmt.Errorf("%w: run canceled at tick %d: %v", simerr.ErrState, tick-1, err)
		}

		next := kernel.Step(cur, reg, cfg)
		if !next.Finite() {
			return nil, fmt.Errorf("%w: non-finite value produced at tick %d", simerr.ErrState, tick)
		}
		rec, err := delta.Diff(tick, cur, next)
		if err != nil {
			return nil, err
		}
		if err := store.AppendTick(tick, next, rec); err != nil {
			return nil, err
		}
		if cad := cfg.Outputs.MetricsCadence; cad > 0 && tick%uint64(cad) == 0 {
			if err := writeHydrology(store, tick, terrain); err != nil {
				return nil, err
			}
		}

		if opts.Feed != nil {
			opts.Feed.Publish(tickMsg{
				Kind:  "tick",
				Tick:  tick,
				Cells: len(rec.Cells),
				Of:    opts.Ticks,
				Run:   store.RunID(),
			})
		}
		if opts.OnTick != nil {
			opts.OnTick(tick, next)
		}
		cur = next
	}

	if err := store.LogEvent(artifact.Event{Tick: opts.Ticks, Kind: "run_complete"}); err != nil {
		return nil, err
	}
	if err := store.Seal(); err != nil {
		return nil, err
	}
	logger.Printf("run %s: sealed after %d ticks at %s", store.RunID(), opts.Ticks, store.Dir())

	return &Result{RunID: store.RunID(), Dir: store.Dir(), Ticks: opts.Ticks}, nil
}

// writeHydrology records the static water-network summary. The network does
// not evolve, but keeping it in the per-tick table makes the metrics files
// self-contained for downstream joins.
func writeHydrology(store *artifact.Store, tick uint64, t *gen.Terrain) error {
	return store.WriteHydrology(metrics.HydrologyStat{
		Tick:        tick,
		RiverLength: t.RiverLength(),
		LakeArea:    t.LakeArea(),
		Threshold:   float64(t.RiverThreshold),
	})
}

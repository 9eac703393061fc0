// Package gen builds the tick-0 environment tensor from the partitioned
// seed streams: hydrology (elevation, rivers, lakes, moisture), temperature,
// and vegetation. Derived fields are recomputed by the kernel engine, never
// drawn here.
package gen

import (
	"fmt"

	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
	"terrarium.sim/internal/simerr"
)

// Terrain carries the static hydrology rasters produced alongside the
// tick-0 tensor. They feed the per-tick hydrology metrics and never change
// during a run.
type Terrain struct {
	Elevation      []float32 // depression-filled, normalized
	Precipitation  []float32
	Flow           []float32 // accumulation proxy
	LakeMask       []bool
	RiverThreshold float32
}

// RiverLength counts cells at or above the river flow threshold.
func (t *Terrain) RiverLength() int {
	n := 0
	for _, f := range t.Flow {
		if f >= t.RiverThreshold {
			n++
		}
	}
	return n
}

// LakeArea counts lake cells.
func (t *Terrain) LakeArea() int {
	n := 0
	for _, m := range t.LakeMask {
		if m {
			n++
		}
	}
	return n
}

// Generate builds the tick-0 tensor for every non-derived field and clips it
// to the registry bounds. Derived layers are left zeroed for the kernel
// engine's derived pass.
func Generate(cfg *scenario.Config, reg *field.Registry) (*grid.Tensor, *Terrain, error) {
	h, w := cfg.World.Height, cfg.World.Width
	if h < 4 || w < 4 {
		return nil, nil, fmt.Errorf("%w: grid %dx%d too small to generate terrain", simerr.ErrConfig, w, h)
	}

	elev := elevation(h, w, cfg)
	precip := precipitation(h, w, cfg, elev)
	acc := flowAccumulation(elev, h, w, cfg.World.WrapX(), cfg.World.WrapY())
	lakeMask, filled := lakes(elev, acc, h, w, cfg.Water.LakeFillThreshold)
	h2o := hydration(filled, acc, h, w, cfg)
	temp := temperature(h, w, cfg)
	veg := vegetation(h2o, temp, h, w, cfg)

	t := grid.New(h, w, reg.Len())
	if i := reg.TemperatureIdx; i >= 0 {
		copy(t.Layer(i), temp)
	}
	if i := reg.HydrationIdx; i >= 0 {
		copy(t.Layer(i), h2o)
	}
	if i := reg.VegetationIdx; i >= 0 {
		copy(t.Layer(i), veg)
	}
	for _, s := range reg.Specs() {
		if s.Derived {
			continue
		}
		layer := t.Layer(s.Index)
		for j, v := range layer {
			if v < s.Lo {
				layer[j] = s.Lo
			} else if v > s.Hi {
				layer[j] = s.Hi
			}
		}
	}

	terr := &Terrain{
		Elevation:      filled,
		Precipitation:  precip,
		Flow:           acc,
		LakeMask:       lakeMask,
		RiverThreshold: percentile(acc, float64(100*cfg.Water.RiverPercentile)),
	}
	return t, terr, nil
}

package gen

import (
	"math"
	"testing"

	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
)

const baseYAML = `
world:
  width: 64
  height: 64
randomness:
  seed: 42
fields:
  - name: temperature
    bounds: [0.0, 1.0]
    coeffs:
      diffusion: 0.05
  - name: hydration
    bounds: [0.0, 1.0]
    coeffs:
      diffusion: 0.02
  - name: vegetation
    bounds: [0.0, 1.0]
    coeffs:
      couples: [temperature, hydration]
  - name: movement_cost
    bounds: [0.0, 1.0]
    derived: true
`

func mustSetup(t *testing.T, yaml string) (*scenario.Config, *field.Registry, *grid.Tensor, *Terrain) {
	t.Helper()
	cfg, err := scenario.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("scenario: %v", err)
	}
	reg, err := field.Build(cfg.Fields)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tensor, terr, err := Generate(cfg, reg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return cfg, reg, tensor, terr
}

func layerMean(a []float32) float64 {
	var s float64
	for _, v := range a {
		s += float64(v)
	}
	return s / float64(len(a))
}

func rowMean(a []float32, w, y int) float64 {
	var s float64
	for x := 0; x < w; x++ {
		s += float64(a[y*w+x])
	}
	return s / float64(w)
}

func TestGenerateDeterministic(t *testing.T) {
	_, _, a, _ := mustSetup(t, baseYAML)
	_, _, b, _ := mustSetup(t, baseYAML)
	if !a.Equal(b) {
		t.Fatal("same scenario and seed produced different tick-0 tensors")
	}
}

func TestGenerateWithinBoundsAndFinite(t *testing.T) {
	_, reg, tensor, _ := mustSetup(t, baseYAML)
	if !tensor.Finite() {
		t.Fatal("tick-0 tensor contains NaN or Inf")
	}
	for _, s := range reg.Specs() {
		if s.Derived {
			continue
		}
		for _, v := range tensor.Layer(s.Index) {
			if v < s.Lo || v > s.Hi {
				t.Fatalf("field %q value %v outside [%v, %v]", s.Name, v, s.Lo, s.Hi)
			}
		}
	}
}

func TestTemperatureNorthHotGradient(t *testing.T) {
	// 64x64, seed 42, north-hot amplitude 0.6: the north edge must exceed
	// the south edge by more than half the amplitude, and the field must be
	// symmetric about the vertical midline.
	yaml := baseYAML + `
heat_profile:
  hot_edge: north
  amplitude: 0.6
  noise_amp: 0.0
`
	cfg, reg, tensor, _ := mustSetup(t, yaml)
	temp := tensor.Layer(reg.TemperatureIdx)
	w, h := cfg.World.Width, cfg.World.Height

	north := rowMean(temp, w, 0)
	south := rowMean(temp, w, h-1)
	if north-south <= 0.3 {
		t.Fatalf("north %.3f - south %.3f = %.3f, want > 0.3", north, south, north-south)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			l := temp[y*w+x]
			r := temp[y*w+(w-1-x)]
			if math.Abs(float64(l-r)) > 1e-4 {
				t.Fatalf("temperature not symmetric at row %d: col %d=%v mirror=%v", y, x, l, r)
			}
		}
	}
}

func TestTemperatureEquatorHot(t *testing.T) {
	cfg, reg, tensor, _ := mustSetup(t, baseYAML)
	temp := tensor.Layer(reg.TemperatureIdx)
	w, h := cfg.World.Width, cfg.World.Height

	band := func(y0, y1 int) float64 {
		var s float64
		for y := y0; y < y1; y++ {
			s += rowMean(temp, w, y)
		}
		return s / float64(y1-y0)
	}
	north := band(0, 6)
	equator := band(h/2-3, h/2+3)
	south := band(h-6, h)
	if equator <= north || equator <= south {
		t.Fatalf("equator %.3f not hotter than poles (%.3f, %.3f)", equator, north, south)
	}
	if math.Abs(north-south) > 0.1 {
		t.Fatalf("poles asymmetric: north %.3f south %.3f", north, south)
	}
}

func TestVegetationTracksWaterAndHeat(t *testing.T) {
	_, reg, tensor, _ := mustSetup(t, baseYAML)
	veg := tensor.Layer(reg.VegetationIdx)
	h2o := tensor.Layer(reg.HydrationIdx)
	temp := tensor.Layer(reg.TemperatureIdx)

	if corr(veg, h2o) <= 0 {
		t.Fatal("vegetation does not correlate positively with hydration")
	}
	if corr(veg, temp) <= 0 {
		t.Fatal("vegetation does not correlate positively with temperature")
	}
}

func TestSpatialCoherence(t *testing.T) {
	cfg, reg, tensor, _ := mustSetup(t, baseYAML)
	w, h := cfg.World.Width, cfg.World.Height
	for _, name := range []string{field.Temperature, field.Hydration, field.Vegetation} {
		i, _ := reg.Index(name)
		a := tensor.Layer(i)
		var diff float64
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := float64(a[y*w+x])
				n := (float64(a[((y-1+h)%h)*w+x]) + float64(a[((y+1)%h)*w+x]) +
					float64(a[y*w+(x-1+w)%w]) + float64(a[y*w+(x+1)%w])) / 4
				diff += math.Abs(c - n)
			}
		}
		diff /= float64(h * w)
		if diff >= 0.3 {
			t.Fatalf("%s lacks spatial coherence: mean neighbor diff %.3f", name, diff)
		}
	}
}

func TestHydrologyStreamIsolatedFromTemperature(t *testing.T) {
	// Changing only the hydrology generation parameters must not move a
	// single bit of the temperature layer: each subsystem draws from its own
	// derived stream.
	_, regA, a, _ := mustSetup(t, baseYAML)
	perturbed := baseYAML + `
water_profile:
  octaves: 6
  elevation_scale: 48
`
	_, regB, b, _ := mustSetup(t, perturbed)

	la, lb := a.Layer(regA.TemperatureIdx), b.Layer(regB.TemperatureIdx)
	for i := range la {
		if math.Float32bits(la[i]) != math.Float32bits(lb[i]) {
			t.Fatalf("temperature cell %d changed with hydrology parameters", i)
		}
	}
}

func TestTerrainMetrics(t *testing.T) {
	_, _, _, terr := mustSetup(t, baseYAML)
	if terr.RiverLength() <= 0 {
		t.Fatal("no river cells")
	}
	if terr.LakeArea() <= 0 {
		t.Fatal("no lake cells")
	}
	if terr.RiverLength() >= len(terr.Flow) {
		t.Fatal("every cell is a river")
	}
}

func corr(a, b []float32) float64 {
	ma, mb := layerMean(a), layerMean(b)
	var sab, saa, sbb float64
	for i := range a {
		da := float64(a[i]) - ma
		db := float64(b[i]) - mb
		sab += da * db
		saa += da * da
		sbb += db * db
	}
	if saa == 0 || sbb == 0 {
		return 0
	}
	return sab / math.Sqrt(saa*sbb)
}

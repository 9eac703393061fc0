package gen

import (
	"math"

	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/seed"
)

// temperature builds the tick-0 temperature raster: a smooth meridional
// gradient keyed to the configured hot edge plus bounded coherent noise
// drawn from the temperature stream.
func temperature(h, w int, cfg *scenario.Config) []float32 {
	p := cfg.Heat
	amp := p.Amplitude

	base := make([]float32, h)
	for y := 0; y < h; y++ {
		yn := float32(0)
		if h > 1 {
			yn = float32(y) / float32(h-1)
		}
		var g float32
		switch p.HotEdge {
		case scenario.HotNorth:
			g = 1 - yn
		case scenario.HotSouth:
			g = yn
		default: // equator-hot, pole-cold
			g = 1 - float32(math.Abs(float64(yn-0.5)))*2
		}
		base[y] = 0.5 + amp*(g-0.5)
	}

	t := make([]float32, h*w)
	if p.NoiseAmp > 0 {
		rng := seed.Stream(cfg.Randomness.Seed, seed.Temperature)
		for i := range t {
			t[i] = float32(rng.NormFloat64())
		}
		t = blur(t, h, w, 4, cfg.World.WrapX(), cfg.World.WrapY())
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			t[i] = clip01(base[y] + t[i]*p.NoiseAmp)
		}
	}
	return t
}

package gen

import (
	"math"

	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/seed"
)

// vegetation seeds the tick-0 vegetation raster: high only where both the
// temperature is near its optimum and water is available.
func vegetation(h2o, temp []float32, h, w int, cfg *scenario.Config) []float32 {
	p := cfg.Vegetation

	noise := make([]float32, h*w)
	rng := seed.Stream(cfg.Randomness.Seed, seed.Vegetation)
	for i := range noise {
		noise[i] = float32(rng.NormFloat64())
	}
	noise = blur(noise, h, w, 2, cfg.World.WrapX(), cfg.World.WrapY())

	v := make([]float32, h*w)
	for i := range v {
		sw := h2o[i] / (h2o[i] + p.WaterHalf + 1e-8)
		dt := float64((temp[i] - p.HeatOptimum) / (p.HeatSigma + 1e-8))
		st := float32(math.Exp(-0.5 * dt * dt))
		v[i] = clip01(p.CarryingCapacity*sw*st + noise[i]*0.01)
	}
	return v
}

package kernel

import (
	"math"

	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
)

// diffusionPass applies one explicit step of discrete diffusion per
// non-derived field: v += d * laplacian5(v). The five-point stencil reads
// only the pass's input layer, never partially updated cells.
func diffusionPass(t *grid.Tensor, reg *field.Registry, wrapX, wrapY bool) {
	h, w := t.H, t.W
	for _, s := range reg.Specs() {
		if s.Derived || s.Diffusion == 0 {
			continue
		}
		src := append([]float32(nil), t.Layer(s.Index)...)
		dst := t.Layer(s.Index)
		d := s.Diffusion
		for y := 0; y < h; y++ {
			ym1, yp1 := y-1, y+1
			if wrapY {
				ym1 = (ym1 + h) % h
				yp1 = yp1 % h
			} else {
				if ym1 < 0 {
					ym1 = 0
				}
				if yp1 >= h {
					yp1 = h - 1
				}
			}
			for x := 0; x < w; x++ {
				xm1, xp1 := x-1, x+1
				if wrapX {
					xm1 = (xm1 + w) % w
					xp1 = xp1 % w
				} else {
					if xm1 < 0 {
						xm1 = 0
					}
					if xp1 >= w {
						xp1 = w - 1
					}
				}
				c := src[y*w+x]
				lap := src[ym1*w+x] + src[yp1*w+x] + src[y*w+xm1] + src[y*w+xp1] - 4*c
				dst[y*w+x] = c + d*lap
			}
		}
	}
}

// advectionPass performs a semi-Lagrangian step per field with a nonzero
// drift velocity: each cell samples the input layer at (x - vx, y - vy)
// with bilinear interpolation.
func advectionPass(t *grid.Tensor, reg *field.Registry, wrapX, wrapY bool) {
	h, w := t.H, t.W
	for _, s := range reg.Specs() {
		if s.Derived || (s.VX == 0 && s.VY == 0) {
			continue
		}
		src := append([]float32(nil), t.Layer(s.Index)...)
		dst := t.Layer(s.Index)
		for y := 0; y < h; y++ {
			fy := float32(y) - s.VY
			if wrapY {
				fy = wrapf(fy, float32(h))
			} else {
				fy = clampf(fy, 0, float32(h)-1.001)
			}
			y0 := int(math.Floor(float64(fy)))
			y1 := y0 + 1
			if wrapY {
				y1 = y1 % h
			} else if y1 >= h {
				y1 = h - 1
			}
			sy := fy - float32(y0)
			for x := 0; x < w; x++ {
				fx := float32(x) - s.VX
				if wrapX {
					fx = wrapf(fx, float32(w))
				} else {
					fx = clampf(fx, 0, float32(w)-1.001)
				}
				x0 := int(math.Floor(float64(fx)))
				x1 := x0 + 1
				if wrapX {
					x1 = x1 % w
				} else if x1 >= w {
					x1 = w - 1
				}
				sx := fx - float32(x0)
				v00 := src[y0*w+x0]
				v10 := src[y0*w+x1]
				v01 := src[y1*w+x0]
				v11 := src[y1*w+x1]
				dst[y*w+x] = (1-sx)*(1-sy)*v00 + sx*(1-sy)*v10 + (1-sx)*sy*v01 + sx*sy*v11
			}
		}
	}
}

// couplingPass applies the cell-local growth/decay relationships:
// evaporation draws hydration down with temperature, and vegetation grows
// logistically where water and temperature are favorable, consuming
// hydration as it does.
func couplingPass(t *grid.Tensor, reg *field.Registry, cfg *scenario.Config) {
	ti, hi, vi := reg.TemperatureIdx, reg.HydrationIdx, reg.VegetationIdx

	if ti >= 0 && hi >= 0 {
		evap := cfg.Water.Evaporation
		temp := t.Layer(ti)
		hyd := t.Layer(hi)
		for i := range hyd {
			tt := temp[i]
			if tt < 0 {
				tt = 0
			} else if tt > 1 {
				tt = 1
			}
			hyd[i] = clip01f(hyd[i] - evap*tt)
		}
	}

	if ti >= 0 && hi >= 0 && vi >= 0 {
		p := cfg.Vegetation
		temp := t.Layer(ti)
		hyd := t.Layer(hi)
		veg := t.Layer(vi)
		for i := range veg {
			H := hyd[i]
			T := temp[i]
			V := veg[i]
			sw := H / (H + p.WaterHalf + 1e-8)
			dt := float64((T - p.HeatOptimum) / (p.HeatSigma + 1e-8))
			st := float32(math.Exp(-0.5 * dt * dt))
			growth := p.GrowthRate * V * (1 - V/(p.CarryingCapacity+1e-8)) * sw * st
			consume := 0.5 * growth
			veg[i] = clip01f(V + growth)
			hyd[i] = clip01f(H - consume)
		}
	}
}

// decayPass applies per-field exponential decay.
func decayPass(t *grid.Tensor, reg *field.Registry) {
	for _, s := range reg.Specs() {
		if s.Derived || s.Decay == 0 {
			continue
		}
		layer := t.Layer(s.Index)
		f := 1 - s.Decay
		for i := range layer {
			layer[i] *= f
		}
	}
}

// replenishPass applies per-field constant replenishment.
func replenishPass(t *grid.Tensor, reg *field.Registry) {
	for _, s := range reg.Specs() {
		if s.Derived || s.Replenish == 0 {
			continue
		}
		layer := t.Layer(s.Index)
		for i := range layer {
			layer[i] += s.Replenish
		}
	}
}

// clipPass enforces every non-derived field's declared bounds. Runs
// unconditionally as the last numeric step of a tick.
func clipPass(t *grid.Tensor, reg *field.Registry) {
	for _, s := range reg.Specs() {
		if s.Derived {
			continue
		}
		layer := t.Layer(s.Index)
		for i, v := range layer {
			if v < s.Lo {
				layer[i] = s.Lo
			} else if v > s.Hi {
				layer[i] = s.Hi
			}
		}
	}
}

// RecomputeDerived overwrites every derived layer with the pure function of
// its input fields. Movement cost rises with vegetation density and falls
// with hydration.
func RecomputeDerived(t *grid.Tensor, reg *field.Registry) {
	mi := reg.MovementCostIdx
	if mi < 0 {
		return
	}
	s := reg.Spec(mi)
	dst := t.Layer(mi)
	var hyd, veg []float32
	if reg.HydrationIdx >= 0 {
		hyd = t.Layer(reg.HydrationIdx)
	}
	if reg.VegetationIdx >= 0 {
		veg = t.Layer(reg.VegetationIdx)
	}
	for i := range dst {
		var hv, vv float32
		if hyd != nil {
			hv = hyd[i]
		}
		if veg != nil {
			vv = veg[i]
		}
		mc := 0.3 + 0.5*vv + 0.2*(1-hv)
		if mc < s.Lo {
			mc = s.Lo
		} else if mc > s.Hi {
			mc = s.Hi
		}
		dst[i] = mc
	}
}

func wrapf(v, n float32) float32 {
	v = float32(math.Mod(float64(v), float64(n)))
	if v < 0 {
		v += n
	}
	return v
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clip01f(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

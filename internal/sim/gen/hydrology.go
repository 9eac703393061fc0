package gen

import (
	"container/heap"
	"math"

	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/seed"
)

// elevation builds a normalized ridged-fBm elevation raster.
func elevation(h, w int, cfg *scenario.Config) []float32 {
	p := cfg.Water
	e := fbm(h, w, p.Octaves, float64(p.ElevationScale), seed.Int64(cfg.Randomness.Seed, seed.TerrainElevation), cfg.World.WrapX(), cfg.World.WrapY())
	normalize01(e)
	// Fold mid-range values upward into ridges.
	rs := p.RidgeStrength
	for i, v := range e {
		r := 1 - float32(math.Abs(float64(2*v-1)))
		e[i] = (1-rs)*v + rs*r
	}
	sigma := float64(p.ElevationScale) / 24
	if sigma < 1 {
		sigma = 1
	}
	e = blur(e, h, w, sigma, cfg.World.WrapX(), cfg.World.WrapY())
	normalize01(e)
	return e
}

// precipitation mixes coherent noise with an orographic proxy: windward
// gain across the x axis plus a lowland bonus.
func precipitation(h, w int, cfg *scenario.Config, elev []float32) []float32 {
	p := fbm(h, w, 3, float64(cfg.Water.PrecipitationScale), seed.Int64(cfg.Randomness.Seed, seed.Precipitation), cfg.World.WrapX(), cfg.World.WrapY())
	normalize01(p)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			wind := 0.2 + 0.8*float32(x)/float32(max(w-1, 1))
			orog := (1-elev[i])*0.4 + wind*0.6
			p[i] = 0.6*p[i] + 0.4*orog
		}
	}
	normalize01(p)
	return p
}

// flowAccumulation routes each cell to its steepest-descent neighbor and
// accumulates upstream contribution in topological order. Cells with no
// lower neighbor are local sinks.
func flowAccumulation(elev []float32, h, w int, wrapX, wrapY bool) []float32 {
	idx := func(y, x int) int { return y*w + x }
	flowTo := make([]int32, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := idx(y, x)
			minE := elev[i]
			target := i
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dy == 0 && dx == 0 {
						continue
					}
					ny, nx := y+dy, x+dx
					if wrapY {
						ny = ((ny % h) + h) % h
					} else if ny < 0 || ny >= h {
						continue
					}
					if wrapX {
						nx = ((nx % w) + w) % w
					} else if nx < 0 || nx >= w {
						continue
					}
					j := idx(ny, nx)
					if elev[j] < minE {
						minE = elev[j]
						target = j
					}
				}
			}
			flowTo[i] = int32(target)
		}
	}
	indeg := make([]int32, h*w)
	for i := range flowTo {
		if int(flowTo[i]) != i {
			indeg[flowTo[i]]++
		}
	}
	queue := make([]int32, 0, h*w)
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, int32(i))
		}
	}
	acc := make([]float32, h*w)
	for i := range acc {
		acc[i] = 1
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		t := flowTo[i]
		if t == i {
			continue
		}
		acc[t] += acc[i]
		indeg[t]--
		if indeg[t] == 0 {
			queue = append(queue, t)
		}
	}
	return acc
}

// floodItem is one frontier cell of the priority flood.
type floodItem struct {
	level float32
	idx   int32
}

type floodHeap []floodItem

func (h floodHeap) Len() int { return len(h) }
func (h floodHeap) Less(i, j int) bool {
	if h[i].level != h[j].level {
		return h[i].level < h[j].level
	}
	return h[i].idx < h[j].idx
}
func (h floodHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *floodHeap) Push(x any)   { *h = append(*h, x.(floodItem)) }
func (h *floodHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// lakes runs a priority flood from the grid border to find depressions, then
// adds the highest-accumulation cells per the fill threshold. Returns the
// lake mask and the depression-filled elevation.
func lakes(elev, acc []float32, h, w int, threshold float32) ([]bool, []float32) {
	water := make([]float32, h*w)
	for i := range water {
		water[i] = float32(math.Inf(1))
	}
	fh := &floodHeap{}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y == 0 || y == h-1 || x == 0 || x == w-1 {
				heap.Push(fh, floodItem{level: elev[y*w+x], idx: int32(y*w + x)})
			}
		}
	}
	for fh.Len() > 0 {
		it := heap.Pop(fh).(floodItem)
		i := int(it.idx)
		if water[i] <= it.level {
			continue
		}
		water[i] = it.level
		y, x := i/w, i%w
		for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			ny := ((y+d[0])%h + h) % h
			nx := ((x+d[1])%w + w) % w
			j := ny*w + nx
			we := it.level
			if elev[j] > we {
				we = elev[j]
			}
			if we < water[j] {
				heap.Push(fh, floodItem{level: we, idx: int32(j)})
			}
		}
	}

	mask := make([]bool, h*w)
	filled := make([]float32, h*w)
	accThr := percentile(acc, float64(100*(1-threshold)))
	for i := range mask {
		mask[i] = water[i] > elev[i] || acc[i] >= accThr
		if mask[i] && water[i] > elev[i] {
			filled[i] = water[i]
		} else {
			filled[i] = elev[i]
		}
	}
	return mask, filled
}

// sqDistanceTransform computes, per cell, the squared Euclidean distance to
// the nearest set cell of the mask (two-pass 1D parabola method).
func sqDistanceTransform(mask []bool, h, w int) []float32 {
	const inf = float32(1e12)
	d := make([]float32, h*w)
	for i, m := range mask {
		if m {
			d[i] = 0
		} else {
			d[i] = inf
		}
	}
	// Columns.
	f := make([]float32, max(h, w))
	v := make([]int, max(h, w))
	z := make([]float32, max(h, w)+1)
	dt1d := func(n int, get func(int) float32, set func(int, float32)) {
		for i := 0; i < n; i++ {
			f[i] = get(i)
		}
		k := 0
		v[0] = 0
		z[0] = -inf
		z[1] = inf
		for q := 1; q < n; q++ {
			var s float32
			for {
				p := v[k]
				s = ((f[q] + float32(q*q)) - (f[p] + float32(p*p))) / float32(2*(q-p))
				if s <= z[k] {
					k--
					continue
				}
				break
			}
			k++
			v[k] = q
			z[k] = s
			z[k+1] = inf
		}
		k = 0
		for q := 0; q < n; q++ {
			for z[k+1] < float32(q) {
				k++
			}
			dq := float32(q - v[k])
			set(q, dq*dq+f[v[k]])
		}
	}
	for x := 0; x < w; x++ {
		x := x
		dt1d(h, func(y int) float32 { return d[y*w+x] }, func(y int, val float32) { d[y*w+x] = val })
	}
	for y := 0; y < h; y++ {
		y := y
		dt1d(w, func(x int) float32 { return d[y*w+x] }, func(x int, val float32) { d[y*w+x] = val })
	}
	return d
}

// hydration derives the moisture field from river/lake proximity, a lowland
// bonus, and smoothing. Bounded to [0, 1].
func hydration(filled, acc []float32, h, w int, cfg *scenario.Config) []float32 {
	p := cfg.Water
	riverThr := percentile(acc, float64(100*p.RiverPercentile))
	lakeThr := percentile(acc, float64(100*(1-p.LakeFillThreshold)))
	rivers := make([]bool, h*w)
	lakesMajor := make([]bool, h*w)
	for i, a := range acc {
		rivers[i] = a >= riverThr
		lakesMajor[i] = a >= lakeThr
	}

	h2o := make([]float32, h*w)
	riverDist := sqDistanceTransform(rivers, h, w)
	lakeDist := sqDistanceTransform(lakesMajor, h, w)

	elevMin, elevMax := filled[0], filled[0]
	for _, v := range filled {
		if v < elevMin {
			elevMin = v
		}
		if v > elevMax {
			elevMax = v
		}
	}
	span := elevMax - elevMin
	if span <= 0 {
		span = 1
	}
	for i := range h2o {
		v := p.BaseMoisture
		v += float32(math.Exp(-math.Sqrt(float64(riverDist[i]))/12)) * (p.RiverDepth - p.BaseMoisture)
		v += float32(math.Exp(-math.Sqrt(float64(lakeDist[i]))/20)) * (p.LakeDepth - p.BaseMoisture)
		elevNorm := (filled[i] - elevMin) / span
		v += (1 - elevNorm) * 0.15
		h2o[i] = v
	}
	h2o = blur(h2o, h, w, 3, cfg.World.WrapX(), cfg.World.WrapY())
	for i := range h2o {
		h2o[i] = clip01(h2o[i])
	}
	return h2o
}

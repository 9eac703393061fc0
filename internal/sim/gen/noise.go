package gen

import (
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// fbm fills a height x width raster with fractional Brownian motion built
// from simplex octaves. When wrap is set the plane is sampled on a torus
// embedded in 4D so the raster tiles seamlessly in both axes.
func fbm(h, w int, octaves int, baseScale float64, seed int64, wrapX, wrapY bool) []float32 {
	n := opensimplex.New(seed)
	out := make([]float32, h*w)
	amp := 1.0
	for o := 0; o < octaves; o++ {
		scale := baseScale / float64(uint(1)<<uint(o))
		if scale < 1 {
			scale = 1
		}
		freqX := float64(w) / scale
		freqY := float64(h) / scale
		// Offset octaves apart in noise space so they decorrelate.
		off := float64(o) * 97.0
		for y := 0; y < h; y++ {
			v := float64(y) / float64(h)
			for x := 0; x < w; x++ {
				u := float64(x) / float64(w)
				var s float64
				switch {
				case wrapX && wrapY:
					s = n.Eval4(
						math.Cos(2*math.Pi*u)*freqX/(2*math.Pi)+off,
						math.Sin(2*math.Pi*u)*freqX/(2*math.Pi),
						math.Cos(2*math.Pi*v)*freqY/(2*math.Pi)+off,
						math.Sin(2*math.Pi*v)*freqY/(2*math.Pi),
					)
				case wrapX:
					s = n.Eval3(
						math.Cos(2*math.Pi*u)*freqX/(2*math.Pi)+off,
						math.Sin(2*math.Pi*u)*freqX/(2*math.Pi),
						v*freqY+off,
					)
				case wrapY:
					s = n.Eval3(
						u*freqX+off,
						math.Cos(2*math.Pi*v)*freqY/(2*math.Pi),
						math.Sin(2*math.Pi*v)*freqY/(2*math.Pi)+off,
					)
				default:
					s = n.Eval2(u*freqX+off, v*freqY+off)
				}
				out[y*w+x] += float32(amp * s)
			}
		}
		amp *= 0.5
	}
	return out
}

// normalize01 rescales the raster to [0, 1] in place.
func normalize01(a []float32) {
	if len(a) == 0 {
		return
	}
	lo, hi := a[0], a[0]
	for _, v := range a {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span <= 0 {
		for i := range a {
			a[i] = 0
		}
		return
	}
	for i := range a {
		a[i] = (a[i] - lo) / span
	}
}

// blur applies a separable Gaussian filter. Each axis uses wrap or clamp
// addressing to match the grid's boundary mode.
func blur(a []float32, h, w int, sigma float64, wrapX, wrapY bool) []float32 {
	if sigma <= 0 {
		out := make([]float32, len(a))
		copy(out, a)
		return out
	}
	radius := int(3*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i) * float64(i) / (sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}

	tmp := make([]float32, h*w)
	out := make([]float32, h*w)
	// Horizontal.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i := -radius; i <= radius; i++ {
				xi := x + i
				if wrapX {
					xi = ((xi % w) + w) % w
				} else if xi < 0 {
					xi = 0
				} else if xi >= w {
					xi = w - 1
				}
				acc += k[i+radius] * float64(a[y*w+xi])
			}
			tmp[y*w+x] = float32(acc)
		}
	}
	// Vertical.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i := -radius; i <= radius; i++ {
				yi := y + i
				if wrapY {
					yi = ((yi % h) + h) % h
				} else if yi < 0 {
					yi = 0
				} else if yi >= h {
					yi = h - 1
				}
				acc += k[i+radius] * float64(a[yi*w+x])
			}
			out[y*w+x] = float32(acc)
		}
	}
	return out
}

// percentile returns the p-quantile (p in [0, 100]) of the values using
// linear interpolation between order statistics.
func percentile(values []float32, p float64) float32 {
	if len(values) == 0 {
		return 0
	}
	s := make([]float32, len(values))
	copy(s, values)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	if p <= 0 {
		return s[0]
	}
	if p >= 100 {
		return s[len(s)-1]
	}
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	frac := rank - float64(lo)
	if lo+1 >= len(s) {
		return s[len(s)-1]
	}
	return float32(float64(s[lo]) + frac*float64(s[lo+1]-s[lo]))
}

func clip01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

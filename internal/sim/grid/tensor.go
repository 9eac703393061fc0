// Package grid holds the dense environment state tensor.
package grid

import "math"

// Tensor is the full environment state at one tick: height x width cells,
// F scalar fields, single precision. Layout is planar (field-major), so one
// field's layer is a contiguous row-major slice.
type Tensor struct {
	H, W, F int
	Data    []float32
}

// New allocates a zeroed tensor.
func New(h, w, f int) *Tensor {
	return &Tensor{H: h, W: w, F: f, Data: make([]float32, h*w*f)}
}

// Layer returns field f's layer as a row-major view into the tensor.
// Mutating the slice mutates the tensor.
func (t *Tensor) Layer(f int) []float32 {
	n := t.H * t.W
	return t.Data[f*n : (f+1)*n : (f+1)*n]
}

// At returns the value of field f at (y, x).
func (t *Tensor) At(y, x, f int) float32 {
	return t.Data[f*t.H*t.W+y*t.W+x]
}

// Set writes the value of field f at (y, x).
func (t *Tensor) Set(y, x, f int, v float32) {
	t.Data[f*t.H*t.W+y*t.W+x] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{H: t.H, W: t.W, F: t.F, Data: make([]float32, len(t.Data))}
	copy(c.Data, t.Data)
	return c
}

// Equal reports bit-exact equality: a changed bit pattern is a changed value.
func (t *Tensor) Equal(o *Tensor) bool {
	if o == nil || t.H != o.H || t.W != o.W || t.F != o.F {
		return false
	}
	for i, v := range t.Data {
		if math.Float32bits(v) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// Finite reports whether the tensor is free of NaN and infinite values.
func (t *Tensor) Finite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

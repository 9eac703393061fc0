// Package envgrid is the read-only query surface over a hydrated run:
// point lookups, whole-field views, and clipped neighborhood windows.
package envgrid

import (
	"fmt"

	"terrarium.sim/internal/persistence/hydrate"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
	"terrarium.sim/internal/simerr"
)

// View serves queries against one loaded tick of a run. Loading a new tick
// replaces the backing tensor; a View is not safe for concurrent LoadTick.
type View struct {
	run  *hydrate.Run
	reg  *field.Registry
	tick uint64
	cur  *grid.Tensor
}

// Window is a rectangular extract of one field, clipped to the grid.
type Window struct {
	X0, Y0 int // top-left grid coordinate of the window
	W, H   int
	Values []float32 // row-major, H*W
}

func Open(dir string) (*View, error) {
	run, err := hydrate.Open(dir)
	if err != nil {
		return nil, err
	}
	return &View{run: run, reg: run.Registry()}, nil
}

// NewView wraps an already-open run.
func NewView(run *hydrate.Run) *View {
	return &View{run: run, reg: run.Registry()}
}

func (v *View) Run() *hydrate.Run { return v.run }

// Tick returns the currently loaded tick.
func (v *View) Tick() uint64 { return v.tick }

// Fields lists the field names in layer order.
func (v *View) Fields() []string { return v.reg.Names() }

// LoadTick reconstructs and pins the given tick.
func (v *View) LoadTick(tick uint64) error {
	t, err := v.run.Reconstruct(tick)
	if err != nil {
		return err
	}
	v.cur = t
	v.tick = tick
	return nil
}

func (v *View) loaded() error {
	if v.cur == nil {
		return fmt.Errorf("%w: no tick loaded", simerr.ErrState)
	}
	return nil
}

// Field returns the named layer as a row-major slice. The slice aliases the
// loaded tensor; callers must not modify it.
func (v *View) Field(name string) ([]float32, error) {
	if err := v.loaded(); err != nil {
		return nil, err
	}
	i, ok := v.reg.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: field %q", simerr.ErrNotFound, name)
	}
	return v.cur.Layer(i), nil
}

// Cell returns one field's value at (x, y).
func (v *View) Cell(x, y int, name string) (float32, error) {
	if err := v.loaded(); err != nil {
		return 0, err
	}
	if x < 0 || x >= v.cur.W || y < 0 || y >= v.cur.H {
		return 0, fmt.Errorf("%w: cell (%d,%d) outside %dx%d grid",
			simerr.ErrNotFound, x, y, v.cur.W, v.cur.H)
	}
	i, ok := v.reg.Index(name)
	if !ok {
		return 0, fmt.Errorf("%w: field %q", simerr.ErrNotFound, name)
	}
	return v.cur.At(y, x, i), nil
}

// FieldsAt returns every field's value at (x, y), keyed by name.
func (v *View) FieldsAt(x, y int) (map[string]float32, error) {
	if err := v.loaded(); err != nil {
		return nil, err
	}
	if x < 0 || x >= v.cur.W || y < 0 || y >= v.cur.H {
		return nil, fmt.Errorf("%w: cell (%d,%d) outside %dx%d grid",
			simerr.ErrNotFound, x, y, v.cur.W, v.cur.H)
	}
	out := make(map[string]float32, v.reg.Len())
	for _, s := range v.reg.Specs() {
		out[s.Name] = v.cur.At(y, x, s.Index)
	}
	return out, nil
}

// Neighborhood extracts the square window of the named field centered on
// (x, y) with the given radius, clipped at grid edges. The center cell must
// be in bounds.
func (v *View) Neighborhood(x, y, radius int, name string) (Window, error) {
	if err := v.loaded(); err != nil {
		return Window{}, err
	}
	if radius < 0 {
		return Window{}, fmt.Errorf("%w: negative radius %d", simerr.ErrState, radius)
	}
	if x < 0 || x >= v.cur.W || y < 0 || y >= v.cur.H {
		return Window{}, fmt.Errorf("%w: cell (%d,%d) outside %dx%d grid",
			simerr.ErrNotFound, x, y, v.cur.W, v.cur.H)
	}
	i, ok := v.reg.Index(name)
	if !ok {
		return Window{}, fmt.Errorf("%w: field %q", simerr.ErrNotFound, name)
	}

	x0, y0 := max(0, x-radius), max(0, y-radius)
	x1, y1 := min(v.cur.W-1, x+radius), min(v.cur.H-1, y+radius)
	win := Window{
		X0: x0, Y0: y0,
		W: x1 - x0 + 1, H: y1 - y0 + 1,
	}
	win.Values = make([]float32, win.W*win.H)
	layer := v.cur.Layer(i)
	for yy := y0; yy <= y1; yy++ {
		copy(win.Values[(yy-y0)*win.W:], layer[yy*v.cur.W+x0:yy*v.cur.W+x1+1])
	}
	return win, nil
}

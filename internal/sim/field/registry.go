// Package field holds the static per-field metadata table.
//
// Every other component reads the registry to learn a field's tensor index,
// value bounds, and dynamics coefficients. Name-to-index resolution happens
// exactly once, when the registry is built; the kernel engine and the
// persistence layer address fields by dense integer index only.
package field

import (
	"fmt"

	"terrarium.sim/internal/simerr"
)

// Canonical field names the generator and the coupling pass recognize.
const (
	Temperature  = "temperature"
	Hydration    = "hydration"
	Vegetation   = "vegetation"
	MovementCost = "movement_cost"
)

// Def is one field entry of a resolved scenario.
type Def struct {
	Name    string     `yaml:"name" json:"name"`
	Bounds  [2]float32 `yaml:"bounds" json:"bounds"`
	Derived bool       `yaml:"derived" json:"derived"`
	Coeffs  Coeffs     `yaml:"coeffs" json:"coeffs"`
}

// Coeffs are the dynamics coefficients of a non-derived field.
type Coeffs struct {
	Diffusion float32   `yaml:"diffusion" json:"diffusion"`
	Advection Advection `yaml:"advection" json:"advection"`
	Decay     float32   `yaml:"decay" json:"decay"`
	Replenish float32   `yaml:"replenish" json:"replenish"`
	Couples   []string  `yaml:"couples" json:"couples,omitempty"`
}

// Advection is a constant per-field drift velocity in cells per tick.
type Advection struct {
	VX float32 `yaml:"vx" json:"vx"`
	VY float32 `yaml:"vy" json:"vy"`
}

// Spec is the resolved, index-addressed form of one field.
type Spec struct {
	Name      string
	Index     int
	Lo, Hi    float32
	Derived   bool
	Diffusion float32
	VX, VY    float32
	Decay     float32
	Replenish float32
	Couples   []int
}

// Registry is the ordered FieldSpec table. It is immutable after Build and
// safe for concurrent readers.
type Registry struct {
	specs  []Spec
	byName map[string]int

	// Well-known indices, -1 when the scenario omits the field.
	TemperatureIdx  int
	HydrationIdx    int
	VegetationIdx   int
	MovementCostIdx int
}

// Build validates the scenario's field list and returns the registry.
func Build(defs []Def) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: empty field list", simerr.ErrConfig)
	}
	r := &Registry{
		specs:           make([]Spec, 0, len(defs)),
		byName:          make(map[string]int, len(defs)),
		TemperatureIdx:  -1,
		HydrationIdx:    -1,
		VegetationIdx:   -1,
		MovementCostIdx: -1,
	}
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", simerr.ErrConfig, i)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field name %q", simerr.ErrConfig, d.Name)
		}
		if !(d.Bounds[0] < d.Bounds[1]) {
			return nil, fmt.Errorf("%w: field %q bounds [%v, %v] are not ordered", simerr.ErrConfig, d.Name, d.Bounds[0], d.Bounds[1])
		}
		c := d.Coeffs
		if d.Derived {
			// Derived fields are recomputed from other fields, never diffused,
			// advected, decayed, or replenished.
			if c.Diffusion != 0 || c.Advection.VX != 0 || c.Advection.VY != 0 || c.Decay != 0 || c.Replenish != 0 {
				return nil, fmt.Errorf("%w: derived field %q declares dynamics coefficients", simerr.ErrConfig, d.Name)
			}
		}
		if c.Diffusion < 0 {
			return nil, fmt.Errorf("%w: field %q has negative diffusion coefficient %v", simerr.ErrConfig, d.Name, c.Diffusion)
		}
		if c.Decay < 0 || c.Decay > 1 {
			return nil, fmt.Errorf("%w: field %q decay %v outside [0, 1]", simerr.ErrConfig, d.Name, c.Decay)
		}
		if c.Replenish < 0 {
			return nil, fmt.Errorf("%w: field %q has negative replenish rate %v", simerr.ErrConfig, d.Name, c.Replenish)
		}
		r.byName[d.Name] = i
		r.specs = append(r.specs, Spec{
			Name:      d.Name,
			Index:     i,
			Lo:        d.Bounds[0],
			Hi:        d.Bounds[1],
			Derived:   d.Derived,
			Diffusion: c.Diffusion,
			VX:        c.Advection.VX,
			VY:        c.Advection.VY,
			Decay:     c.Decay,
			Replenish: c.Replenish,
		})
	}
	// Coupling references resolve after every name is known.
	for i, d := range defs {
		for _, ref := range d.Coeffs.Couples {
			j, ok := r.byName[ref]
			if !ok {
				return nil, fmt.Errorf("%w: field %q couples to unknown field %q", simerr.ErrConfig, d.Name, ref)
			}
			if j == i {
				return nil, fmt.Errorf("%w: field %q couples to itself", simerr.ErrConfig, d.Name)
			}
			r.specs[i].Couples = append(r.specs[i].Couples, j)
		}
	}
	if i, ok := r.byName[Temperature]; ok {
		r.TemperatureIdx = i
	}
	if i, ok := r.byName[Hydration]; ok {
		r.HydrationIdx = i
	}
	if i, ok := r.byName[Vegetation]; ok {
		r.VegetationIdx = i
	}
	if i, ok := r.byName[MovementCost]; ok {
		r.MovementCostIdx = i
	}
	return r, nil
}

// Len reports the number of fields.
func (r *Registry) Len() int { return len(r.specs) }

// Spec returns the field at index i.
func (r *Registry) Spec(i int) Spec { return r.specs[i] }

// Specs returns the ordered table.
func (r *Registry) Specs() []Spec { return r.specs }

// Index resolves a field name.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// Names returns the field names in index order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Name
	}
	return out
}

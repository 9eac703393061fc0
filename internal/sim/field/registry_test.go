package field

import (
	"errors"
	"testing"

	"terrarium.sim/internal/simerr"
)

func validDefs() []Def {
	return []Def{
		{Name: Temperature, Bounds: [2]float32{0, 1}, Coeffs: Coeffs{Diffusion: 0.05}},
		{Name: Hydration, Bounds: [2]float32{0, 1}, Coeffs: Coeffs{Diffusion: 0.02, Couples: []string{Temperature}}},
		{Name: Vegetation, Bounds: [2]float32{0, 1}, Coeffs: Coeffs{Couples: []string{Temperature, Hydration}}},
		{Name: MovementCost, Bounds: [2]float32{0, 1}, Derived: true},
	}
}

func TestBuildResolvesIndices(t *testing.T) {
	r, err := Build(validDefs())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Len() != 4 {
		t.Fatalf("len = %d, want 4", r.Len())
	}
	if r.TemperatureIdx != 0 || r.HydrationIdx != 1 || r.VegetationIdx != 2 || r.MovementCostIdx != 3 {
		t.Fatalf("well-known indices wrong: %d %d %d %d", r.TemperatureIdx, r.HydrationIdx, r.VegetationIdx, r.MovementCostIdx)
	}
	if got := r.Specs()[2].Couples; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("vegetation couples = %v", got)
	}
	for i, s := range r.Specs() {
		if s.Index != i {
			t.Fatalf("spec %q index = %d, want %d", s.Name, s.Index, i)
		}
	}
}

func TestBuildRejectsBadDefs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d []Def) []Def
	}{
		{"duplicate name", func(d []Def) []Def {
			d[1].Name = d[0].Name
			return d
		}},
		{"derived with diffusion", func(d []Def) []Def {
			d[3].Coeffs.Diffusion = 0.1
			return d
		}},
		{"derived with advection", func(d []Def) []Def {
			d[3].Coeffs.Advection.VX = 0.5
			return d
		}},
		{"negative diffusion", func(d []Def) []Def {
			d[0].Coeffs.Diffusion = -0.1
			return d
		}},
		{"inverted bounds", func(d []Def) []Def {
			d[0].Bounds = [2]float32{1, 0}
			return d
		}},
		{"unknown coupling target", func(d []Def) []Def {
			d[2].Coeffs.Couples = []string{"plasma"}
			return d
		}},
		{"self coupling", func(d []Def) []Def {
			d[2].Coeffs.Couples = []string{Vegetation}
			return d
		}},
		{"decay above one", func(d []Def) []Def {
			d[0].Coeffs.Decay = 1.5
			return d
		}},
		{"empty list", func(d []Def) []Def { return nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.mutate(validDefs()))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, simerr.ErrConfig) {
				t.Fatalf("error %v is not ErrConfig", err)
			}
		})
	}
}

// Package kernel advances the environment tensor by one tick.
//
// A tick applies the scenario's enabled passes in their configured order:
// diffusion, advection, coupling (evaporation and vegetation growth/decay),
// per-field decay and replenishment, then an unconditional clip to bounds
// and the derived-field recomputation. Every pass is a full-tensor
// transform over its input snapshot; arithmetic is single precision with a
// fixed operation order, so identical inputs give identical tensors on
// every run.
package kernel

import (
	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/field"
	"terrarium.sim/internal/sim/grid"
)

// Step computes the next tick's tensor from the previous one. The input
// tensor is never mutated.
func Step(prev *grid.Tensor, reg *field.Registry, cfg *scenario.Config) *grid.Tensor {
	cur := prev.Clone()
	wrapX := cfg.Dynamics.Boundary == "wrap" && cfg.World.WrapX()
	wrapY := cfg.Dynamics.Boundary == "wrap" && cfg.World.WrapY()

	derived := false
	for _, pass := range cfg.Dynamics.Passes {
		switch pass {
		case "diffusion":
			diffusionPass(cur, reg, wrapX, wrapY)
		case "advection":
			advectionPass(cur, reg, wrapX, wrapY)
		case "coupling":
			couplingPass(cur, reg, cfg)
		case "decay":
			decayPass(cur, reg)
		case "replenish":
			replenishPass(cur, reg)
		case "derived":
			// Always recomputed after the clip below so derived fields never
			// see unclipped inputs.
			derived = true
		}
	}
	clipPass(cur, reg)
	if derived {
		RecomputeDerived(cur, reg)
	}
	return cur
}

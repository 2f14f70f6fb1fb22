// Command pbfcluster-tune searches the PBF tunable space with CMA-ES for a
// parameter set that keeps a single-rank dam-break run stable, mirroring
// pthm-soup/cmd/optimize retargeted from ecosystem fitness to fluid
// stability (DESIGN.md).
package main

import (
	"github.com/pthm-cable/pbfcluster/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the PBF tunable set searched by CMA-ES: the
// density-projection stiffness and its tensile-instability correction
// (k, dq), the XSPH viscosity coefficient, and the smoothing radius itself.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "k", Min: 0.01, Max: 0.3, Default: 0.1},
			{Name: "dq", Min: 0.05, Max: 0.3, Default: 0.15},
			{Name: "viscosity", Min: 0.0, Max: 0.05, Default: 0.01},
			{Name: "smoothing_radius", Min: 0.3, Max: 1.0, Default: 0.5},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config's physics block.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.Physics.K = clamped[0]
	cfg.Physics.DQ = clamped[1]
	cfg.Physics.Viscosity = clamped[2]
	cfg.Physics.SmoothingRadius = clamped[3]
}

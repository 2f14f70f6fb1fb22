// Package solver implements the PBF Jacobi density-projection solve,
// velocity/viscosity finalization, and boundary/mover collision handling
// (spec.md §4.3, §4.4, §4.5).
package solver

import (
	"math"

	"github.com/pthm-cable/pbfcluster/particle"
)

// ClampEps keeps a clamped particle strictly inside the domain so the
// spatial hash never classifies it into the "beyond last bin" cell
// (spec.md §4.5).
const ClampEps = 1e-3

// Bounds is the global read-only simulation AABB.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Mover is a solid disk obstacle particles are pushed out of.
type Mover struct {
	CX, CY, Radius float64
}

// ClampToBounds clamps a particle's predicted position to the domain AABB,
// per spec.md §4.5. Idempotent: a second call is a no-op (invariant 7).
func ClampToBounds(p *particle.Particle, b Bounds) {
	if p.PX < b.MinX {
		p.PX = b.MinX
	} else if p.PX > b.MaxX {
		p.PX = b.MaxX - ClampEps
	}
	if p.PY < b.MinY {
		p.PY = b.MinY
	} else if p.PY > b.MaxY {
		p.PY = b.MaxY - ClampEps
	}
}

// ResolveMover pushes a particle's predicted position out of the mover disk
// along the inward normal if it has penetrated, per spec.md §4.5. jitterDX,
// jitterDY give a deterministic fallback direction for the degenerate d=0
// case (particle exactly on the mover center).
func ResolveMover(p *particle.Particle, m Mover, jitterDX, jitterDY float64) {
	if m.Radius <= 0 {
		return
	}
	dx := p.PX - m.CX
	dy := p.PY - m.CY
	distSq := dx*dx + dy*dy
	rSq := m.Radius * m.Radius
	if distSq == 0 {
		// Push the full radius out along the normalized jitter direction.
		jl := math.Hypot(jitterDX, jitterDY)
		if jl > 0 {
			p.PX += m.Radius * jitterDX / jl
			p.PY += m.Radius * jitterDY / jl
		}
		return
	}
	if distSq > 0 && distSq <= rSq {
		d := math.Sqrt(distSq)
		// n points from the particle toward the center; the outward push
		// is -(pen)*n, i.e. += pen*(particle-center)/d.
		pen := m.Radius - d
		p.PX += pen * dx / d
		p.PY += pen * dy / d
	}
}

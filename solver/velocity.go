package solver

import (
	"github.com/pthm-cable/pbfcluster/kernel"
	"github.com/pthm-cable/pbfcluster/particle"
)

// ComputeVelocity derives each owned particle's velocity from the
// position delta accumulated over the substep and clamps it to VMax, per
// spec.md §4.4.
func ComputeVelocity(store *particle.Store, dt float64) {
	owned := store.Owned()
	for i := range owned {
		p := &owned[i]
		p.VX = (p.PX - p.X) / dt
		p.VY = (p.PY - p.Y) / dt
		p.ClampVelocity()
	}
}

// ApplyXSPHViscosity applies the XSPH velocity smoothing term to every
// owned AND halo particle (spec.md §4.4: viscosity references neighbor
// velocities, and halo velocity snapshots must reflect their latest owner
// state). neighbors must be indexed over [0, store.Total()) — one entry
// per particle the caller wants viscosity applied to, owned followed by
// halo, not just the owned region ComputeDensities/ComputeLambda use.
func ApplyXSPHViscosity(store *particle.Store, neighbors [][]int32, c, h float64) {
	total := store.Total()
	dvx := make([]float64, total)
	dvy := make([]float64, total)

	for i := 0; i < total; i++ {
		pi := store.At(i)
		var sx, sy float64
		for _, j := range neighbors[i] {
			pj := store.At(int(j))
			r := dist(pi.PX, pi.PY, pj.PX, pj.PY)
			w := kernel.W(r, h)
			sx += (pj.VX - pi.VX) * w
			sy += (pj.VY - pi.VY) * w
		}
		dvx[i] = c * sx
		dvy[i] = c * sy
	}

	for i := 0; i < total; i++ {
		pi := store.At(i)
		pi.VX += dvx[i]
		pi.VY += dvy[i]
		pi.ClampVelocity()
	}
}

// Commit copies each owned particle's predicted position into its current
// position, per spec.md §4.4's final step.
func Commit(store *particle.Store) {
	owned := store.Owned()
	for i := range owned {
		p := &owned[i]
		p.X = p.PX
		p.Y = p.PY
	}
}

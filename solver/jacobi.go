package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/pbfcluster/kernel"
	"github.com/pthm-cable/pbfcluster/particle"
)

// Mass is the per-particle mass used throughout the density/lambda/delta-p
// accumulation. The PBF derivation in spec.md §4.3 treats every particle as
// unit mass.
const Mass = 1.0

// lambdaEps is the PBF relaxation term (spec.md §4.3: "epsilon = 1").
const lambdaEps = 1.0

// Params bundles the tunables the Jacobi solve reads each iteration.
type Params struct {
	RestDensity float64
	H           float64
	K           float64
	DQ          float64
}

// ComputeDensities accumulates rho_i = sum_j m*W(r_ij,h) over each owned
// particle's neighbor list plus its own self-contribution, per spec.md
// §4.3 step 1. neighbors[i] holds combined-store indices for owned
// particle i.
func ComputeDensities(store *particle.Store, neighbors [][]int32, h float64) {
	owned := store.Owned()
	contribs := make([]float64, 0, kernelNeighborCap)
	for i := range owned {
		pi := &owned[i]
		contribs = contribs[:0]
		contribs = append(contribs, kernel.W(0, h)*Mass) // self term
		for _, j := range neighbors[i] {
			pj := store.At(int(j))
			r := dist(pi.PX, pi.PY, pj.PX, pj.PY)
			contribs = append(contribs, kernel.W(r, h)*Mass)
		}
		pi.Rho = floats.Sum(contribs)
	}
}

const kernelNeighborCap = 65

// ComputeLambda computes the PBF constraint multiplier for each owned
// particle, per spec.md §4.3 step 2.
func ComputeLambda(store *particle.Store, neighbors [][]int32, p Params) {
	owned := store.Owned()
	for i := range owned {
		pi := &owned[i]
		c := pi.Rho/p.RestDensity - 1.0

		var gradSumX, gradSumY, gradSqSum float64
		for _, j := range neighbors[i] {
			pj := store.At(int(j))
			r := dist(pi.PX, pi.PY, pj.PX, pj.PY)
			coeff := kernel.GradW(r, p.H) / p.RestDensity
			gx := coeff * (pi.PX - pj.PX)
			gy := coeff * (pi.PY - pj.PY)
			gradSumX += gx
			gradSumY += gy
			gradSqSum += gx*gx + gy*gy
		}
		sigmaC := gradSumX*gradSumX + gradSumY*gradSumY + gradSqSum
		pi.Lambda = -c / (sigmaC + lambdaEps)
	}
}

// ComputeDeltaP computes each owned particle's position correction using
// the already-published lambda of its neighbors (owned or halo), per
// spec.md §4.3 step 4, and writes it into DPX/DPY (applied separately by
// ApplyDeltaP so the publish-between-substeps protocol in spec.md §4.3
// step 3/5 can run between compute and apply).
func ComputeDeltaP(store *particle.Store, neighbors [][]int32, p Params) {
	owned := store.Owned()
	wdq := kernel.W(p.DQ, p.H)
	for i := range owned {
		pi := &owned[i]
		var dpx, dpy float64
		for _, j := range neighbors[i] {
			pj := store.At(int(j))
			r := dist(pi.PX, pi.PY, pj.PX, pj.PY)
			wij := kernel.W(r, p.H)
			var sCorr float64
			if wdq > 0 {
				ratio := wij / wdq
				sCorr = -p.K * ratio * ratio * ratio * ratio
			}
			coeff := (pi.Lambda + pj.Lambda + sCorr) * kernel.GradW(r, p.H)
			dpx += coeff * (pi.PX - pj.PX)
			dpy += coeff * (pi.PY - pj.PY)
		}
		pi.DPX = dpx / p.RestDensity
		pi.DPY = dpy / p.RestDensity
	}
}

// ApplyDeltaP applies each owned particle's accumulated position
// correction to its predicted position, then clamps to bounds and resolves
// mover collision, per spec.md §4.3 step 4 (final lines) / §4.5.
func ApplyDeltaP(store *particle.Store, b Bounds, m Mover) {
	owned := store.Owned()
	for i := range owned {
		pi := &owned[i]
		pi.PX += pi.DPX
		pi.PY += pi.DPY
		ClampToBounds(pi, b)
		jx, jy := jitterFor(i)
		ResolveMover(pi, m, jx, jy)
	}
}

// jitterFor returns a deterministic fallback push direction for the d=0
// mover-collision degenerate case, varied by particle index so a cluster of
// coincident particles doesn't all jitter identically.
func jitterFor(i int) (float64, float64) {
	angle := float64(i) * 2.399963229728653 // golden-angle spacing
	return math.Cos(angle), math.Sin(angle)
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return math.Sqrt(dx*dx + dy*dy)
}

// Package particle provides the particle arena owned by a single worker
// rank: a contiguous store of owned particles plus a read-only mirror of
// neighbor-owned halo particles, addressed by index to avoid the cyclic
// object references a pointer-linked particle graph would otherwise need.
package particle

import "fmt"

// VMax is the hard velocity clamp applied whenever velocities are finalized
// (solver.ComputeVelocity and solver.ApplyXSPHViscosity) (spec invariant 2).
const VMax = 20.0

// Particle holds the per-particle PBF state. All fields are owned directly
// by value; there are no pointers between particles, so the store can be
// copied, compacted, and migrated with plain slice operations.
type Particle struct {
	X, Y   float64 // current position
	PX, PY float64 // predicted position (x*, y*)
	VX, VY float64 // velocity
	Rho    float64 // density
	Lambda float64 // constraint multiplier
	DPX    float64 // position correction accumulator
	DPY    float64
}

// ClampVelocity clamps vx, vy componentwise to [-VMax, VMax].
func (p *Particle) ClampVelocity() {
	p.VX = clamp(p.VX, -VMax, VMax)
	p.VY = clamp(p.VY, -VMax, VMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Store is a fixed-capacity arena holding a worker's owned particles in
// [0, NLocal) and a read-only mirror of neighbor-owned halo particles in
// [NLocal, NLocal+NHalo). Both regions share one backing array; indices
// handed out by Store remain valid until the next RemoveOwnedSwap/Append/ClearHalo
// call that touches them.
type Store struct {
	particles []Particle
	nLocal    int
	nHalo     int
}

// NewStore allocates a store with the given capacity.
func NewStore(capacity int) *Store {
	return &Store{particles: make([]Particle, capacity)}
}

// Capacity returns the total number of slots in the arena.
func (s *Store) Capacity() int { return len(s.particles) }

// NLocal returns the number of owned particles.
func (s *Store) NLocal() int { return s.nLocal }

// NHalo returns the number of halo (mirrored) particles.
func (s *Store) NHalo() int { return s.nHalo }

// Total returns NLocal()+NHalo().
func (s *Store) Total() int { return s.nLocal + s.nHalo }

// Owned returns the slice of owned particles, [0, NLocal).
func (s *Store) Owned() []Particle { return s.particles[:s.nLocal] }

// Halo returns the slice of halo particles, [NLocal, NLocal+NHalo).
func (s *Store) Halo() []Particle { return s.particles[s.nLocal : s.nLocal+s.nHalo] }

// At returns a pointer into the backing array for index i, valid for both
// owned (i < NLocal) and halo (i >= NLocal) particles. Neighbor lists store
// these combined-store indices directly, per spec.md §3.
func (s *Store) At(i int) *Particle { return &s.particles[i] }

// AppendOwned adds p as a new owned particle, growing NLocal. It panics if
// the arena has no free capacity left after the halo region — OOB/halo
// payload overflow is a fatal configuration error (spec.md §7), not a
// recoverable runtime condition.
func (s *Store) AppendOwned(p Particle) int {
	idx := s.nLocal
	s.growInto(idx, p, true)
	return idx
}

func (s *Store) growInto(idx int, p Particle, owned bool) {
	needed := s.nLocal + s.nHalo + 1
	if needed > len(s.particles) {
		panic(fmt.Sprintf("particle store: capacity %d exceeded (nLocal=%d nHalo=%d): CFL/capacity assumption violated", len(s.particles), s.nLocal, s.nHalo))
	}
	if owned {
		// Shift the halo region right by one slot to keep owned contiguous
		// at the front, then place the new owned particle at the boundary.
		copy(s.particles[idx+1:s.nLocal+s.nHalo+1], s.particles[idx:s.nLocal+s.nHalo])
		s.particles[idx] = p
		s.nLocal++
	} else {
		s.particles[s.nLocal+s.nHalo] = p
		s.nHalo++
	}
}

// RemoveOwnedSwap removes the owned particle at index i by swapping in the
// last owned entry and shrinking NLocal, per the compaction scheme in
// spec.md §4.6. It does not touch the halo region. Returns the index that
// now holds what used to be the last owned particle (or -1 if i was last).
func (s *Store) RemoveOwnedSwap(i int) int {
	if i < 0 || i >= s.nLocal {
		panic(fmt.Sprintf("particle store: RemoveOwnedSwap index %d out of owned range [0,%d)", i, s.nLocal))
	}
	last := s.nLocal - 1
	if i == last {
		s.nLocal--
		return -1
	}
	s.particles[i] = s.particles[last]
	s.nLocal--
	return i
}

// AppendHalo adds p as a new halo (mirrored) particle, growing NHalo.
func (s *Store) AppendHalo(p Particle) int {
	idx := s.nLocal + s.nHalo
	s.growInto(idx, p, false)
	return idx
}

// ClearHalo discards the halo region at the start of each substep, per
// spec.md §4.7 ("the halo region is cleared at the start of each substep").
func (s *Store) ClearHalo() {
	s.nHalo = 0
}

// Package worker implements a single simulation rank: it owns a slab of the
// domain, runs the per-substep PBF pipeline of spec.md §4, and exchanges
// OOB/halo/λ/position updates with its left and right neighbors over the
// transport fabric.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/pbfcluster/grid"
	"github.com/pthm-cable/pbfcluster/migrate"
	"github.com/pthm-cable/pbfcluster/particle"
	"github.com/pthm-cable/pbfcluster/solver"
	"github.com/pthm-cable/pbfcluster/telemetry"
	"github.com/pthm-cable/pbfcluster/transport"
)

// jacobiIters is the fixed Jacobi iteration count of the density-projection
// solve, per spec.md §4.3.
const jacobiIters = 4

// boundaryEps tolerates float round-off when a rank decides whether its own
// slab touches the global domain edge (and therefore has no neighbor on
// that side), per spec.md §4.6 ("partition boundary = domain boundary...
// skip that exchange").
const boundaryEps = 1e-9

// neighborSide tracks, for one adjacent rank, the pairing established by
// this substep's halo exchange: which owned indices were published as this
// rank's halo contribution, and where the particles received in return live
// in this rank's own halo region. Subsequent λ/position publishes within
// the Jacobi solve reuse this exact pairing (spec.md §4.7).
type neighborSide struct {
	conn     *transport.Conn
	outgoing []int
	offset   int
	count    int
}

// Rank is one worker's simulation state.
type Rank struct {
	ep    transport.WorkerEndpoint
	store *particle.Store
	ng    *grid.NeighborGrid
	log   *slog.Logger

	domain solver.Bounds

	left  neighborSide
	right neighborSide
}

// NewRank allocates a rank's particle store and neighbor grid. capacity is
// the store's fixed arena size (spec.md §3: sized at init, migration must
// not exceed it). slabMinX/slabMaxX is this rank's owned range before halo
// padding; haloBand widens the grid to also cover the halo mirror region.
func NewRank(ep transport.WorkerEndpoint, capacity int, domain solver.Bounds, slabMinX, slabMaxX, haloBand, h float64, log *slog.Logger) *Rank {
	if log == nil {
		log = slog.Default()
	}
	originX := slabMinX - haloBand
	width := (slabMaxX + haloBand) - originX
	height := domain.MaxY - domain.MinY
	return &Rank{
		ep:     ep,
		store:  particle.NewStore(capacity),
		ng:     grid.NewNeighborGrid(originX, width, domain.MinY, height, h),
		log:    log.With("rank", ep.Rank()),
		domain: domain,
	}
}

// Store exposes the rank's particle arena, chiefly for seeding at startup.
func (r *Rank) Store() *particle.Store { return r.store }

// connectNeighbors binds this rank's left/right transport.Conn for the
// upcoming substep. The physical fabric chain is fixed, but whether a link
// is actually live this substep depends on the CURRENT partition: a rank
// whose own slab touches the global domain edge has no neighbor on that
// side, even if the adjacent rank in the fixed chain exists (it may simply
// be inactive/parked). Spec.md §4.9 guarantees active ranks always form the
// prefix [0, NumActive), so this purely local comparison against t's own
// slab bounds is equivalent to consulting the coordinator's partition
// layout directly.
func (r *Rank) connectNeighbors(t transport.TunablesMsg) {
	r.left, r.right = neighborSide{}, neighborSide{}
	if t.NodeStartX > r.domain.MinX+boundaryEps {
		if c, ok := r.ep.Left(); ok {
			r.left.conn = c
		}
	}
	if t.NodeEndX < r.domain.MaxX-boundaryEps {
		if c, ok := r.ep.Right(); ok {
			r.right.conn = c
		}
	}
}

// Substep runs one full PBF substep — apply gravity, predict, OOB
// migration, halo exchange, neighbor build, the 4-iteration Jacobi solve
// with its intra-iteration λ/position publishes, velocity finalization and
// XSPH viscosity, and commit — per spec.md §4.1-§4.5.
func (r *Rank) Substep(ctx context.Context, t transport.TunablesMsg, mover solver.Mover, perf *telemetry.PerfCollector) error {
	if !t.Active {
		// A newly inactive worker retains and freezes its particles
		// (spec.md §4.8, §9): it runs no physics and touches no Conn, so
		// its former neighbors must likewise see it as edge-of-domain via
		// connectNeighbors before they can safely skip exchanging with it.
		return nil
	}

	r.connectNeighbors(t)

	perf.StartTick()
	defer perf.EndTick()

	perf.StartPhase(telemetry.PhasePredict)
	solver.ApplyGravityAndPredict(r.store, t.G, t.DT)

	perf.StartPhase(telemetry.PhaseOOB)
	if err := r.exchangeOOB(ctx, t.NodeStartX, t.NodeEndX); err != nil {
		return fmt.Errorf("worker %d: OOB exchange: %w", r.ep.Rank(), err)
	}

	perf.StartPhase(telemetry.PhaseHalo)
	r.store.ClearHalo()
	if err := r.exchangeHalo(ctx, t.NodeStartX, t.NodeEndX, t.H); err != nil {
		return fmt.Errorf("worker %d: halo exchange: %w", r.ep.Rank(), err)
	}

	perf.StartPhase(telemetry.PhaseNeighborBuild)
	grid.Build(r.ng, r.store)
	neighbors := r.buildNeighbors(t.H)

	perf.StartPhase(telemetry.PhaseJacobiSolve)
	params := solver.Params{RestDensity: t.Rho0, H: t.H, K: t.K, DQ: t.DQ}
	owned := neighbors[:r.store.NLocal()]
	for iter := 0; iter < jacobiIters; iter++ {
		solver.ComputeDensities(r.store, owned, t.H)
		solver.ComputeLambda(r.store, owned, params)
		if err := r.publishLambda(ctx); err != nil {
			return fmt.Errorf("worker %d: publish lambda: %w", r.ep.Rank(), err)
		}

		solver.ComputeDeltaP(r.store, owned, params)
		solver.ApplyDeltaP(r.store, r.domain, mover)
		if err := r.publishPositions(ctx); err != nil {
			return fmt.Errorf("worker %d: publish positions: %w", r.ep.Rank(), err)
		}
	}

	perf.StartPhase(telemetry.PhaseVelocity)
	solver.ComputeVelocity(r.store, t.DT)
	solver.ApplyXSPHViscosity(r.store, neighbors, t.C, t.H)

	perf.StartPhase(telemetry.PhaseCommit)
	solver.Commit(r.store)
	return nil
}

// PackFrame projects every owned particle's committed position into the
// pixel-space coordinate buffer sent to the coordinator on the terminal
// substep, per spec.md §4.8/§6: both axes are scaled by the same maxX, per
// the spec's literal "2x/max_x - 1, same for y".
func (r *Rank) PackFrame(maxX float64) transport.CoordFrame {
	owned := r.store.Owned()
	coords := make([]int16, 0, 2*len(owned))
	for i := range owned {
		coords = append(coords, transport.PackCoord(owned[i].X, maxX), transport.PackCoord(owned[i].Y, maxX))
	}
	return transport.CoordFrame{Coords: coords}
}

// buildNeighbors computes one neighbor list per particle in the combined
// store (owned followed by halo), per spec.md §4.2.
func (r *Rank) buildNeighbors(h float64) [][]int32 {
	total := r.store.Total()
	out := make([][]int32, total)
	buf := make([]int32, 0, grid.MaxNeighbors)
	for i := 0; i < total; i++ {
		p := r.store.At(i)
		buf = buf[:0]
		buf = r.ng.QueryInto(buf, p.PX, p.PY, h, int32(i), r.store)
		out[i] = append([]int32(nil), buf...)
	}
	return out
}

func (r *Rank) exchangeOOB(ctx context.Context, start, end float64) error {
	left, right := migrate.DetectOOB(r.store, start, end)

	if r.left.conn != nil {
		if err := migrate.ExchangeOOB(ctx, r.left.conn, r.store, left); err != nil {
			return err
		}
	} else if len(left) > 0 {
		r.log.Warn("OOB particles with no left neighbor; domain boundary clamp should have prevented this")
		left = nil
	}
	if r.right.conn != nil {
		if err := migrate.ExchangeOOB(ctx, r.right.conn, r.store, right); err != nil {
			return err
		}
	} else if len(right) > 0 {
		r.log.Warn("OOB particles with no right neighbor; domain boundary clamp should have prevented this")
		right = nil
	}

	// Both exchanges only appended new owned particles so far (AppendOwned
	// never reorders existing indices); remove the migrated-out particles
	// in one combined pass now that both sides' indices are still valid.
	migrate.RemoveMigrated(r.store, append(left, right...))
	return nil
}

func (r *Rank) exchangeHalo(ctx context.Context, start, end, h float64) error {
	if r.left.conn != nil {
		out := migrate.HaloCandidates(r.store, start, h)
		n, err := migrate.ExchangeHalo(ctx, r.left.conn, r.store, out)
		if err != nil {
			return err
		}
		r.left.outgoing = out
		r.left.offset = 0
		r.left.count = n
	}
	if r.right.conn != nil {
		offset := r.store.NHalo()
		out := migrate.HaloCandidates(r.store, end, h)
		n, err := migrate.ExchangeHalo(ctx, r.right.conn, r.store, out)
		if err != nil {
			return err
		}
		r.right.outgoing = out
		r.right.offset = offset
		r.right.count = n
	}
	return nil
}

func (r *Rank) publishLambda(ctx context.Context) error {
	for _, side := range []*neighborSide{&r.left, &r.right} {
		if side.conn == nil {
			continue
		}
		if err := publishLambdaSide(ctx, side, r.store); err != nil {
			return err
		}
	}
	return nil
}

func publishLambdaSide(ctx context.Context, side *neighborSide, store *particle.Store) error {
	vals := make([]float64, len(side.outgoing))
	for i, idx := range side.outgoing {
		vals[i] = store.At(idx).Lambda
	}
	if err := side.conn.Send(ctx, transport.LambdaUpdate{Lambdas: vals}.Encode()); err != nil {
		return err
	}
	buf, err := side.conn.Recv(ctx)
	if err != nil {
		return err
	}
	upd, err := transport.DecodeLambdaUpdate(buf)
	if err != nil {
		return err
	}
	if len(upd.Lambdas) != side.count {
		return fmt.Errorf("lambda publish: got %d values, want %d", len(upd.Lambdas), side.count)
	}
	base := store.NLocal() + side.offset
	for k, v := range upd.Lambdas {
		store.At(base + k).Lambda = v
	}
	return nil
}

func (r *Rank) publishPositions(ctx context.Context) error {
	for _, side := range []*neighborSide{&r.left, &r.right} {
		if side.conn == nil {
			continue
		}
		if err := publishPositionsSide(ctx, side, r.store); err != nil {
			return err
		}
	}
	return nil
}

func publishPositionsSide(ctx context.Context, side *neighborSide, store *particle.Store) error {
	px := make([]float64, len(side.outgoing))
	py := make([]float64, len(side.outgoing))
	for i, idx := range side.outgoing {
		p := store.At(idx)
		px[i], py[i] = p.PX, p.PY
	}
	if err := side.conn.Send(ctx, transport.PositionUpdate{PX: px, PY: py}.Encode()); err != nil {
		return err
	}
	buf, err := side.conn.Recv(ctx)
	if err != nil {
		return err
	}
	upd, err := transport.DecodePositionUpdate(buf)
	if err != nil {
		return err
	}
	if len(upd.PX) != side.count {
		return fmt.Errorf("position publish: got %d values, want %d", len(upd.PX), side.count)
	}
	base := store.NLocal() + side.offset
	for k := range upd.PX {
		p := store.At(base + k)
		p.PX, p.PY = upd.PX[k], upd.PY[k]
	}
	return nil
}

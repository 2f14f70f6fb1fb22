package main

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pthm-cable/pbfcluster/config"
	"github.com/pthm-cable/pbfcluster/grid"
	"github.com/pthm-cable/pbfcluster/particle"
	"github.com/pthm-cable/pbfcluster/solver"
)

// jacobiIters mirrors worker.jacobiIters (spec.md §4.3's fixed 4-iteration
// Jacobi solve); this binary runs the solve directly, without a worker
// rank, since tuning evaluates a single undivided domain.
const jacobiIters = 4

// densityErrorBlowup is the mean |rho/rho0 - 1| past which a run is judged
// to have gone unstable rather than merely noisy.
const densityErrorBlowup = 2.0

// warmupSteps skips the initial settling transient before density-error
// samples are collected for the quality score.
const warmupSteps = 30

// FitnessEvaluator runs headless single-rank PBF simulations and scores
// them for a CMA-ES search over (k, dq, viscosity, smoothing_radius).
type FitnessEvaluator struct {
	params   *ParamVector
	maxSteps int
	seeds    []int64
	baseCfg  *config.Config

	mu          sync.Mutex
	bestFitness float64
	lastQuality float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxSteps int, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxSteps:    maxSteps,
		seeds:       seeds,
		baseCfg:     baseCfg,
		bestFitness: math.Inf(1),
	}
}

// LastQuality returns the quality score from the most recent Evaluate call.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// runResult holds the outcome of one single-rank run.
type runResult struct {
	stableSteps   int
	densityErrors []float64 // |rho/rho0 - 1| samples collected post-warmup
}

// Evaluate computes fitness for a parameter vector (lower = better),
// averaged across fe.seeds independent dam-break seedings run in parallel.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]runResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runSimulation(x, s)
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalQuality float64
	for _, r := range results {
		quality := computeQuality(r.densityErrors)
		totalFitness += computeFitness(r, quality)
		totalQuality += quality
	}
	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
	}
	fe.lastQuality = totalQuality / n
	fe.mu.Unlock()

	return avgFitness
}

// runSimulation seeds a dam-break block into a single undivided domain and
// runs the Jacobi PBF pipeline directly (no worker/transport split — tuning
// always evaluates one rank), stopping early if the density error blows up.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) runResult {
	cfg, _ := config.Load("")
	cfg.Domain = fe.baseCfg.Domain
	cfg.Cluster = fe.baseCfg.Cluster
	cfg.Mover = fe.baseCfg.Mover
	cfg.Physics = fe.baseCfg.Physics
	fe.params.ApplyToConfig(cfg, x)
	cfg.Derived.HaloBand = cfg.Physics.SmoothingRadius

	domain := solver.Bounds{MinX: cfg.Domain.MinX, MinY: cfg.Domain.MinY, MaxX: cfg.Domain.MaxX, MaxY: cfg.Domain.MaxY}
	mover := solver.Mover{CX: cfg.Mover.CenterX, CY: cfg.Mover.CenterY, Radius: cfg.Mover.Radius}
	h := cfg.Physics.SmoothingRadius

	capacity := cfg.Cluster.ParticlesPerRow * cfg.Cluster.ParticlesPerRow
	store := particle.NewStore(capacity)
	seedDamBreak(store, cfg, seed)

	width := domain.MaxX - domain.MinX
	height := domain.MaxY - domain.MinY
	ng := grid.NewNeighborGrid(domain.MinX, width, domain.MinY, height, h)

	params := solver.Params{RestDensity: cfg.Physics.RestDensity, H: h, K: cfg.Physics.K, DQ: cfg.Physics.DQ}

	result := runResult{}
	buf := make([]int32, 0, grid.MaxNeighbors)

	for step := 0; step < fe.maxSteps; step++ {
		solver.ApplyGravityAndPredict(store, cfg.Physics.Gravity, cfg.Physics.DT)

		grid.Build(ng, store)
		owned := store.Owned()
		neighbors := make([][]int32, len(owned))
		for i := range owned {
			buf = buf[:0]
			buf = ng.QueryInto(buf, owned[i].PX, owned[i].PY, h, int32(i), store)
			neighbors[i] = append([]int32(nil), buf...)
		}

		for iter := 0; iter < jacobiIters; iter++ {
			solver.ComputeDensities(store, neighbors, h)
			solver.ComputeLambda(store, neighbors, params)
			solver.ComputeDeltaP(store, neighbors, params)
			solver.ApplyDeltaP(store, domain, mover)
		}

		solver.ComputeVelocity(store, cfg.Physics.DT)
		solver.ApplyXSPHViscosity(store, neighbors, cfg.Physics.Viscosity, h)
		solver.Commit(store)

		if step < warmupSteps {
			result.stableSteps = step + 1
			continue
		}

		meanErr, blown := densityStats(store, cfg.Physics.RestDensity)
		if blown {
			return result
		}
		result.densityErrors = append(result.densityErrors, meanErr)
		result.stableSteps = step + 1
	}

	return result
}

// densityStats returns the mean fractional density error this step and
// whether it has blown past densityErrorBlowup (or gone NaN).
func densityStats(store *particle.Store, rho0 float64) (meanErr float64, blown bool) {
	owned := store.Owned()
	if len(owned) == 0 {
		return 0, true
	}
	var sum float64
	for i := range owned {
		err := owned[i].Rho/rho0 - 1.0
		if math.IsNaN(err) || math.IsInf(err, 0) {
			return 0, true
		}
		sum += math.Abs(err)
	}
	mean := sum / float64(len(owned))
	return mean, mean > densityErrorBlowup
}

// seedDamBreak fills a block along the domain's left edge with a regular
// particle grid, matching cmd/pbfcluster's own smoke-test seeding.
func seedDamBreak(store *particle.Store, cfg *config.Config, seed int64) {
	spacing := cfg.Physics.SmoothingRadius * 0.55
	blockWidth := (cfg.Domain.MaxX - cfg.Domain.MinX) * 0.3
	blockHeight := (cfg.Domain.MaxY - cfg.Domain.MinY) * 0.8
	rng := rand.New(rand.NewSource(seed))

	for x := cfg.Domain.MinX + spacing/2; x < cfg.Domain.MinX+blockWidth; x += spacing {
		for y := cfg.Domain.MinY + spacing/2; y < cfg.Domain.MinY+blockHeight; y += spacing {
			px := x + (rng.Float64()-0.5)*0.02
			py := y + (rng.Float64()-0.5)*0.02
			store.AppendOwned(particle.Particle{X: px, Y: py, PX: px, PY: py})
		}
	}
}

// computeFitness scores a run: lower is better. Stability (steps survived)
// dominates; quality adds up to a 20% bonus to separate runs that both
// reached maxSteps.
func computeFitness(r runResult, quality float64) float64 {
	survived := float64(r.stableSteps)
	return -(survived * (1.0 + 0.2*quality))
}

// computeQuality maps the post-warmup density-error samples to a [0,1]
// score: low, consistent density error scores high.
func computeQuality(errs []float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	var sum float64
	for _, e := range errs {
		sum += e
	}
	mean := sum / float64(len(errs))
	return clamp01(math.Exp(-mean * mean * 10))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

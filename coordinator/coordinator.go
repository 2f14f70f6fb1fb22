// Package coordinator implements the rank-0 role of spec.md §1/§4.8: it
// owns the authoritative tunables and partition layout, scatters a
// per-worker snapshot each frame, gathers the resulting coordinate frames
// from every active worker, and exposes the parameter/partition control
// surface an external input source drives.
package coordinator

import (
	"context"
	"fmt"

	"github.com/pthm-cable/pbfcluster/config"
	"github.com/pthm-cable/pbfcluster/partition"
	"github.com/pthm-cable/pbfcluster/transport"
	"github.com/pthm-cable/pbfcluster/tunables"
)

// Display renders the coordinate frames gathered from the active workers
// this frame, in rank order. The concrete renderer (a preview window, a
// headless recorder, a network relay) is out of scope for this module —
// spec.md §1/§9 treats presentation as an external consumer.
type Display interface {
	Render(frames []transport.CoordFrame) error
}

// Commands is one frame's worth of externally-driven input: cyclic
// parameter selection/nudges, mover controls, partition changes, and
// shutdown, per spec.md §4.10.
type Commands struct {
	NextField, PrevField         bool
	IncreaseField, DecreaseField bool

	IncreaseMoverRadius, DecreaseMoverRadius, ResetMoverRadius bool

	SetMoverFromDisplay          bool
	DisplayX, DisplayY, DisplayZ float64

	AddPartition, RemovePartition bool

	KillSim bool
}

// ControlsSource supplies one Commands value per frame. Concrete input
// handling (keyboard, GUI, remote control protocol) is out of scope; this
// is the contract the frame loop polls against.
type ControlsSource interface {
	Poll() Commands
}

// Coordinator holds the authoritative simulation state: tunables,
// partition layout, and the parameter/mover control surfaces, and drives
// the scatter/gather frame loop over a transport.Fabric.
type Coordinator struct {
	ep     transport.CoordinatorEndpoint
	layout *partition.Layout
	t      tunables.Tunables
	sel    tunables.Selector
	mover  tunables.MoverControls
	proj   tunables.Projection

	frame int64
}

// New builds a coordinator for numWorkers ranks over cfg's domain width,
// seeded from cfg's physics/cluster/mover defaults, per SPEC_FULL.md.
func New(ep transport.CoordinatorEndpoint, numWorkers int, cfg *config.Config, proj tunables.Projection) *Coordinator {
	minSlab := 2.5 * cfg.Physics.SmoothingRadius
	return &Coordinator{
		ep:     ep,
		layout: partition.NewLayout(numWorkers, cfg.Domain.MaxX-cfg.Domain.MinX, minSlab),
		t: tunables.Tunables{
			Gravity:       cfg.Physics.Gravity,
			RestDensity:   cfg.Physics.RestDensity,
			Smoothing:     cfg.Physics.SmoothingRadius,
			K:             cfg.Physics.K,
			DQ:            cfg.Physics.DQ,
			Viscosity:     cfg.Physics.Viscosity,
			MoverCX:       cfg.Mover.CenterX,
			MoverCY:       cfg.Mover.CenterY,
			MoverRadius:   cfg.Mover.Radius,
			DT:            cfg.Physics.DT,
			StepsPerFrame: cfg.Cluster.StepsPerFrame,
		},
		proj: proj,
	}
}

// Frame returns the number of frames run so far.
func (c *Coordinator) Frame() int64 { return c.frame }

// Layout exposes the partition layout, chiefly for tests and telemetry.
func (c *Coordinator) Layout() *partition.Layout { return c.layout }

// ShouldStop reports whether the most recent command set requested
// simulation shutdown (spec.md §4.10 kill_sim).
func (c *Coordinator) ShouldStop() bool { return c.t.KillSim }

// Shutdown marks the run for termination and scatters one final tunables
// message with kill_sim set, so every worker rank's loop exits on its own
// after its next receive instead of hanging on a gather that will never
// arrive. It does not gather — the terminating frame already ran to
// completion before Shutdown is called.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.t.KillSim = true
	return c.ep.Scatter(ctx, c.messages())
}

// Apply folds one frame's externally-driven commands into the coordinator's
// tunables and partition layout, per spec.md §4.9/§4.10.
func (c *Coordinator) Apply(cmd Commands) {
	if cmd.NextField {
		c.sel.Next()
	}
	if cmd.PrevField {
		c.sel.Prev()
	}
	if cmd.IncreaseField {
		c.sel.Increase(&c.t)
	}
	if cmd.DecreaseField {
		c.sel.Decrease(&c.t)
	}
	if cmd.IncreaseMoverRadius {
		c.mover.IncreaseRadius(&c.t)
	}
	if cmd.DecreaseMoverRadius {
		c.mover.DecreaseRadius(&c.t)
	}
	if cmd.ResetMoverRadius {
		c.mover.ResetRadius(&c.t)
	}
	if cmd.SetMoverFromDisplay && c.proj != nil {
		c.mover.SetCenterFromDisplay(&c.t, c.proj, cmd.DisplayX, cmd.DisplayY, cmd.DisplayZ)
	}
	if cmd.AddPartition {
		c.layout.AddPartition()
	}
	if cmd.RemovePartition {
		c.layout.RemovePartition()
	}
	if cmd.KillSim {
		c.t.KillSim = true
	}
}

// messages builds the per-worker tunables snapshot for this frame: every
// rank receives the same physics/control parameters, customized with its
// own slab bounds and active flag from the current partition layout, per
// spec.md §3/§4.8.
func (c *Coordinator) messages() []transport.TunablesMsg {
	n := len(c.layout.Starts)
	msgs := make([]transport.TunablesMsg, n)
	for i := 0; i < n; i++ {
		msgs[i] = transport.TunablesMsg{
			G:             c.t.Gravity,
			H:             c.t.Smoothing,
			K:             c.t.K,
			DQ:            c.t.DQ,
			Rho0:          c.t.RestDensity,
			C:             c.t.Viscosity,
			DT:            c.t.DT,
			MoverCX:       c.t.MoverCX,
			MoverCY:       c.t.MoverCY,
			MoverRadius:   c.t.MoverRadius,
			NodeStartX:    c.layout.Starts[i],
			NodeEndX:      c.layout.Ends[i],
			StepsPerFrame: int32(c.t.StepsPerFrame),
			Active:        c.layout.Active(i),
			KillSim:       c.t.KillSim,
		}
	}
	return msgs
}

// activeRanks returns the rank indices currently active, in order — always
// the prefix [0, NumActive) per spec.md §4.9.
func (c *Coordinator) activeRanks() []int {
	out := make([]int, c.layout.NumActive)
	for i := range out {
		out[i] = i
	}
	return out
}

// RunFrame scatters this frame's tunables to every worker, gathers the
// resulting coordinate frames from the active ones, and renders them via
// disp if non-nil, per spec.md §4.8.
func (c *Coordinator) RunFrame(ctx context.Context, disp Display) ([]transport.CoordFrame, error) {
	if err := c.ep.Scatter(ctx, c.messages()); err != nil {
		return nil, fmt.Errorf("coordinator: scatter: %w", err)
	}
	frames, err := c.ep.Gather(ctx, c.activeRanks())
	if err != nil {
		return nil, fmt.Errorf("coordinator: gather: %w", err)
	}
	c.frame++
	if disp != nil {
		if err := disp.Render(frames); err != nil {
			return frames, fmt.Errorf("coordinator: render: %w", err)
		}
	}
	return frames, nil
}

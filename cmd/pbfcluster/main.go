// Command pbfcluster runs a distributed PBF fluid simulation as N worker
// goroutines and one coordinator goroutine wired together over an
// in-process transport.Fabric (spec.md §1/§2: process bring-up via a real
// multi-process launcher is out of scope, so this is the runnable stand-in
// that exercises the whole stack in one OS process).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pthm-cable/pbfcluster/config"
	"github.com/pthm-cable/pbfcluster/coordinator"
	"github.com/pthm-cable/pbfcluster/particle"
	"github.com/pthm-cable/pbfcluster/partition"
	"github.com/pthm-cable/pbfcluster/solver"
	"github.com/pthm-cable/pbfcluster/telemetry"
	"github.com/pthm-cable/pbfcluster/transport"
	"github.com/pthm-cable/pbfcluster/worker"
)

var (
	configPath = flag.String("config", "", "path to a YAML config overriding embedded defaults")
	maxFrames  = flag.Int("max-frames", 0, "stop after N coordinator frames (0 = run forever)")
	outputDir  = flag.String("output", "", "directory to write frames.csv/perf.csv/config.yaml (disabled if empty)")
	logFile    = flag.String("logfile", "", "write logs to file instead of stderr")
	perfWindow = flag.Int("perf-window", 0, "substeps to average perf over (0 = use config default)")
)

func main() {
	flag.Parse()

	logWriter := os.Stderr
	if *logFile != "" {
		f, err := os.Create(*logFile)
		if err != nil {
			log.Fatalf("creating log file: %v", err)
		}
		defer f.Close()
		logWriter = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logWriter, nil)))

	if err := config.Init(*configPath); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := run(config.Cfg()); err != nil {
		log.Fatalf("pbfcluster: %v", err)
	}
}

func run(cfg *config.Config) error {
	numWorkers := cfg.Cluster.Workers
	fabric := transport.NewFabric(numWorkers)
	coord := coordinator.New(fabric.Coordinator(), numWorkers, cfg, nil)
	layout := coord.Layout()

	domain := solver.Bounds{MinX: cfg.Domain.MinX, MinY: cfg.Domain.MinY, MaxX: cfg.Domain.MaxX, MaxY: cfg.Domain.MaxY}
	mover := solver.Mover{CX: cfg.Mover.CenterX, CY: cfg.Mover.CenterY, Radius: cfg.Mover.Radius}

	capacity := int(float64(cfg.Cluster.ParticlesPerRow*cfg.Cluster.ParticlesPerRow) / float64(numWorkers) * cfg.Cluster.CapacityFactor)
	if capacity < 64 {
		capacity = 64
	}

	ranks := make([]*worker.Rank, numWorkers)
	for i := 0; i < numWorkers; i++ {
		ranks[i] = worker.NewRank(fabric.Worker(i), capacity, domain, layout.Starts[i], layout.Ends[i], cfg.Derived.HaloBand, cfg.Physics.SmoothingRadius, slog.Default())
	}
	seedDamBreak(ranks, layout, cfg)

	om, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		return fmt.Errorf("output manager: %w", err)
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}

	window := *perfWindow
	if window <= 0 {
		window = cfg.Telemetry.PerfWindow
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errc := make(chan error, numWorkers)
	for i := 0; i < numWorkers; i++ {
		perf := telemetry.NewPerfCollector(window)
		go runWorkerLoop(ctx, ranks[i], fabric.Worker(i), mover, perf, domain.MaxX, errc)
	}

	slog.Info("pbfcluster starting", "workers", numWorkers, "active", layout.NumActive, "capacity_per_rank", capacity)
	start := time.Now()

	var frame int64
	for *maxFrames == 0 || int(frame) < *maxFrames {
		frameStart := time.Now()
		frames, err := coord.RunFrame(ctx, nil)
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		tickUS := time.Since(frameStart).Microseconds()

		loads := make([]int, len(frames))
		for i, fr := range frames {
			loads[i] = len(fr.Coords) / 2
		}
		if err := om.WriteFrame(telemetry.FrameStatsFromLoad(frame, tickUS, numWorkers, loads)); err != nil {
			slog.Warn("writing frame stats", "error", err)
		}

		if window > 0 && frame%int64(window) == 0 {
			slog.Info("frame", "frame", frame, "active_workers", coord.Layout().NumActive, "elapsed", time.Since(start).Round(time.Second))
		}

		if coord.ShouldStop() {
			break
		}
		frame++
	}

	if err := coord.Shutdown(ctx); err != nil {
		slog.Warn("shutdown scatter", "error", err)
	}
	for i := 0; i < numWorkers; i++ {
		if err := <-errc; err != nil && ctx.Err() == nil {
			slog.Error("worker exited with error", "error", err)
		}
	}
	slog.Info("pbfcluster stopped", "frames", frame, "elapsed", time.Since(start).Round(time.Second))
	return nil
}

// runWorkerLoop drives one worker rank's lifecycle: receive this frame's
// tunables, run its steps_per_frame substeps, and (if active) publish the
// terminal-substep coordinate frame — per spec.md §4.8.
func runWorkerLoop(ctx context.Context, rank *worker.Rank, ep transport.WorkerEndpoint, mover solver.Mover, perf *telemetry.PerfCollector, domainMaxX float64, errc chan<- error) {
	for {
		msg, err := ep.RecvTunables(ctx)
		if err != nil {
			errc <- err
			return
		}
		if msg.KillSim {
			errc <- nil
			return
		}

		steps := int(msg.StepsPerFrame)
		if steps < 1 {
			steps = 1
		}
		for s := 0; s < steps; s++ {
			if err := rank.Substep(ctx, msg, mover, perf); err != nil {
				errc <- err
				return
			}
		}

		if msg.Active {
			if err := ep.SendCoordsAsync(rank.PackFrame(domainMaxX)).Wait(); err != nil {
				errc <- err
				return
			}
		}
	}
}

// seedDamBreak fills a block along the domain's left edge with a regular
// particle grid, assigning each particle to whichever active rank's slab
// contains its x coordinate — a standard PBF smoke test initial condition.
func seedDamBreak(ranks []*worker.Rank, layout *partition.Layout, cfg *config.Config) {
	spacing := cfg.Physics.SmoothingRadius * 0.55
	blockWidth := (cfg.Domain.MaxX - cfg.Domain.MinX) * 0.3
	blockHeight := (cfg.Domain.MaxY - cfg.Domain.MinY) * 0.8

	for x := cfg.Domain.MinX + spacing/2; x < cfg.Domain.MinX+blockWidth; x += spacing {
		rank := rankForX(layout, x)
		for y := cfg.Domain.MinY + spacing/2; y < cfg.Domain.MinY+blockHeight; y += spacing {
			ranks[rank].Store().AppendOwned(particle.Particle{X: x, Y: y, PX: x, PY: y})
		}
	}
}

func rankForX(layout *partition.Layout, x float64) int {
	for i := 0; i < layout.NumActive; i++ {
		if x < layout.Ends[i] {
			return i
		}
	}
	return layout.NumActive - 1
}

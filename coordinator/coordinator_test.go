package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/pthm-cable/pbfcluster/config"
	"github.com/pthm-cable/pbfcluster/transport"
)

func testConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	cfg.Cluster.Workers = 4
	return cfg
}

type stubWorker struct {
	ep transport.WorkerEndpoint
}

func (w stubWorker) run(ctx context.Context, errc chan<- error) {
	msg, err := w.ep.RecvTunables(ctx)
	if err != nil {
		errc <- err
		return
	}
	if msg.Active {
		p := w.ep.SendCoordsAsync(transport.CoordFrame{Coords: []int16{1, 2}})
		errc <- p.Wait()
		return
	}
	errc <- nil
}

func TestRunFrameScattersAndGathersActiveOnly(t *testing.T) {
	cfg := testConfig()
	f := transport.NewFabric(cfg.Cluster.Workers)
	c := New(f.Coordinator(), cfg.Cluster.Workers, cfg, nil)

	// Park the last worker so only 3 are active.
	c.layout.RemovePartition()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errc := make(chan error, cfg.Cluster.Workers)
	for i := 0; i < cfg.Cluster.Workers; i++ {
		w := stubWorker{ep: f.Worker(i)}
		go w.run(ctx, errc)
	}

	frames, err := c.RunFrame(ctx, nil)
	if err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	for i := 0; i < cfg.Cluster.Workers; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if len(frames) != c.layout.NumActive {
		t.Fatalf("got %d frames, want %d (NumActive)", len(frames), c.layout.NumActive)
	}
	for i, fr := range frames {
		if len(fr.Coords) != 2 {
			t.Errorf("frame %d: got %d coords, want 2", i, len(fr.Coords))
		}
	}
}

type recordingDisplay struct {
	rendered []transport.CoordFrame
}

func (d *recordingDisplay) Render(frames []transport.CoordFrame) error {
	d.rendered = frames
	return nil
}

func TestRunFrameCallsDisplay(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.Workers = 2
	f := transport.NewFabric(2)
	c := New(f.Coordinator(), 2, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		w := stubWorker{ep: f.Worker(i)}
		go w.run(ctx, errc)
	}

	disp := &recordingDisplay{}
	frames, err := c.RunFrame(ctx, disp)
	if err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if len(disp.rendered) != len(frames) {
		t.Fatalf("display saw %d frames, want %d", len(disp.rendered), len(frames))
	}
	if c.Frame() != 1 {
		t.Errorf("Frame() = %d, want 1", c.Frame())
	}
}

func TestApplyAddAndRemovePartition(t *testing.T) {
	cfg := testConfig()
	f := transport.NewFabric(cfg.Cluster.Workers)
	c := New(f.Coordinator(), cfg.Cluster.Workers, cfg, nil)

	startActive := c.layout.NumActive
	c.Apply(Commands{RemovePartition: true})
	if c.layout.NumActive != startActive-1 {
		t.Fatalf("after RemovePartition: NumActive = %d, want %d", c.layout.NumActive, startActive-1)
	}
	c.Apply(Commands{AddPartition: true})
	if c.layout.NumActive != startActive {
		t.Fatalf("after AddPartition: NumActive = %d, want %d", c.layout.NumActive, startActive)
	}
}

func TestApplyIncreaseFieldChangesGravity(t *testing.T) {
	cfg := testConfig()
	f := transport.NewFabric(cfg.Cluster.Workers)
	c := New(f.Coordinator(), cfg.Cluster.Workers, cfg, nil)

	before := c.t.Gravity
	c.Apply(Commands{IncreaseField: true})
	if c.t.Gravity == before {
		t.Error("expected gravity (default selected field) to change after IncreaseField")
	}
}

func TestApplyMoverRadiusControls(t *testing.T) {
	cfg := testConfig()
	f := transport.NewFabric(cfg.Cluster.Workers)
	c := New(f.Coordinator(), cfg.Cluster.Workers, cfg, nil)

	c.Apply(Commands{IncreaseMoverRadius: true})
	increased := c.t.MoverRadius
	c.Apply(Commands{ResetMoverRadius: true})
	if c.t.MoverRadius == increased {
		t.Error("expected ResetMoverRadius to restore the default")
	}
}

func TestApplySetCenterFromDisplay(t *testing.T) {
	cfg := testConfig()
	f := transport.NewFabric(cfg.Cluster.Workers)
	proj := func(x, y, z float64) (float64, float64) { return x * 2, y * 3 }
	c := New(f.Coordinator(), cfg.Cluster.Workers, cfg, proj)

	c.Apply(Commands{SetMoverFromDisplay: true, DisplayX: 5, DisplayY: 7})
	if c.t.MoverCX != 10 || c.t.MoverCY != 21 {
		t.Errorf("MoverCX/CY = %v/%v, want 10/21", c.t.MoverCX, c.t.MoverCY)
	}
}

func TestShutdownSignalsKillSimWithoutGathering(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.Workers = 2
	f := transport.NewFabric(2)
	c := New(f.Coordinator(), 2, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	recvd := make(chan transport.TunablesMsg, 2)
	for i := 0; i < 2; i++ {
		ep := f.Worker(i)
		go func() {
			msg, err := ep.RecvTunables(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			recvd <- msg
		}()
	}

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for i := 0; i < 2; i++ {
		msg := <-recvd
		if !msg.KillSim {
			t.Errorf("worker %d did not receive KillSim", i)
		}
	}
	if !c.ShouldStop() {
		t.Error("ShouldStop() = false after Shutdown")
	}
}

func TestMessagesReflectLayoutAndActive(t *testing.T) {
	cfg := testConfig()
	f := transport.NewFabric(cfg.Cluster.Workers)
	c := New(f.Coordinator(), cfg.Cluster.Workers, cfg, nil)
	c.layout.RemovePartition()

	msgs := c.messages()
	if len(msgs) != cfg.Cluster.Workers {
		t.Fatalf("got %d messages, want %d", len(msgs), cfg.Cluster.Workers)
	}
	for i, m := range msgs {
		wantActive := i < c.layout.NumActive
		if m.Active != wantActive {
			t.Errorf("msg[%d].Active = %v, want %v", i, m.Active, wantActive)
		}
		if m.NodeStartX != c.layout.Starts[i] || m.NodeEndX != c.layout.Ends[i] {
			t.Errorf("msg[%d] slab = [%v,%v), want [%v,%v)", i, m.NodeStartX, m.NodeEndX, c.layout.Starts[i], c.layout.Ends[i])
		}
	}
}

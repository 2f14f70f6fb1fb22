package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/pthm-cable/pbfcluster/particle"
	"github.com/pthm-cable/pbfcluster/transport"
)

func TestDetectOOB(t *testing.T) {
	store := particle.NewStore(4)
	store.AppendOwned(particle.Particle{PX: -1}) // left
	store.AppendOwned(particle.Particle{PX: 5})  // inside
	store.AppendOwned(particle.Particle{PX: 10}) // right (>= end)
	store.AppendOwned(particle.Particle{PX: 9.9})

	left, right := DetectOOB(store, 0, 10)
	if len(left) != 1 || left[0] != 0 {
		t.Errorf("left = %v, want [0]", left)
	}
	if len(right) != 1 || right[0] != 2 {
		t.Errorf("right = %v, want [2]", right)
	}
}

func TestHaloCandidates(t *testing.T) {
	store := particle.NewStore(3)
	store.AppendOwned(particle.Particle{X: 9.6})  // within h=0.5 of boundary 10
	store.AppendOwned(particle.Particle{X: 5})    // far
	store.AppendOwned(particle.Particle{X: 10.4}) // within h

	idxs := HaloCandidates(store, 10, 0.5)
	if len(idxs) != 2 {
		t.Fatalf("HaloCandidates = %v, want 2 entries", idxs)
	}
}

func TestExchangeOOBTransfersParticles(t *testing.T) {
	f := transport.NewFabric(2)
	left := particle.NewStore(4)
	right := particle.NewStore(4)
	left.AppendOwned(particle.Particle{X: 9.9, PX: 10.5, VX: 1})
	right.AppendOwned(particle.Particle{X: 0.1, PX: -0.2, VX: -1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	connLeft, _ := f.Worker(0).Right()
	connRight, _ := f.Worker(1).Left()

	errc := make(chan error, 2)
	go func() { errc <- ExchangeOOB(ctx, connLeft, left, []int{0}) }()
	go func() { errc <- ExchangeOOB(ctx, connRight, right, []int{0}) }()

	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("ExchangeOOB: %v", err)
		}
	}
	RemoveMigrated(left, []int{0})
	RemoveMigrated(right, []int{0})

	if left.NLocal() != 1 {
		t.Fatalf("left.NLocal() = %d, want 1", left.NLocal())
	}
	if right.NLocal() != 1 {
		t.Fatalf("right.NLocal() = %d, want 1", right.NLocal())
	}
	// The wire record carries float32, so -0.2 arrives as its float32 value.
	if want := float64(float32(-0.2)); left.At(0).PX != want {
		t.Errorf("left received PX = %v, want %v", left.At(0).PX, want)
	}
	if got := right.At(0).PX; got != 10.5 {
		t.Errorf("right received PX = %v, want 10.5", got)
	}
}

func TestExchangeHaloPopulatesMirror(t *testing.T) {
	f := transport.NewFabric(2)
	left := particle.NewStore(4)
	right := particle.NewStore(4)
	left.AppendOwned(particle.Particle{X: 9.9})
	right.AppendOwned(particle.Particle{X: 0.1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	connLeft, _ := f.Worker(0).Right()
	connRight, _ := f.Worker(1).Left()

	type result struct {
		n   int
		err error
	}
	rc := make(chan result, 2)
	go func() { n, err := ExchangeHalo(ctx, connLeft, left, []int{0}); rc <- result{n, err} }()
	go func() { n, err := ExchangeHalo(ctx, connRight, right, []int{0}); rc <- result{n, err} }()

	for i := 0; i < 2; i++ {
		r := <-rc
		if r.err != nil {
			t.Fatalf("ExchangeHalo: %v", r.err)
		}
		if r.n != 1 {
			t.Errorf("ExchangeHalo returned %d, want 1", r.n)
		}
	}

	if left.NHalo() != 1 || right.NHalo() != 1 {
		t.Fatalf("NHalo = %d/%d, want 1/1", left.NHalo(), right.NHalo())
	}
	// Owned particles must remain in place; halo exchange never removes them.
	if left.NLocal() != 1 || right.NLocal() != 1 {
		t.Fatalf("NLocal = %d/%d, want 1/1", left.NLocal(), right.NLocal())
	}
}

func TestExchangeOOBNoOutgoingNoIncoming(t *testing.T) {
	f := transport.NewFabric(2)
	left := particle.NewStore(2)
	right := particle.NewStore(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	connLeft, _ := f.Worker(0).Right()
	connRight, _ := f.Worker(1).Left()

	errc := make(chan error, 2)
	go func() { errc <- ExchangeOOB(ctx, connLeft, left, nil) }()
	go func() { errc <- ExchangeOOB(ctx, connRight, right, nil) }()

	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("ExchangeOOB: %v", err)
		}
	}
	if left.NLocal() != 0 || right.NLocal() != 0 {
		t.Errorf("expected no particles transferred, got %d/%d", left.NLocal(), right.NLocal())
	}
}

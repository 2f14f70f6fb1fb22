package grid

import (
	"testing"

	"github.com/pthm-cable/pbfcluster/particle"
)

func buildStore(positions [][2]float64) *particle.Store {
	s := particle.NewStore(len(positions))
	for _, p := range positions {
		part := particle.Particle{X: p[0], Y: p[1], PX: p[0], PY: p[1]}
		s.AppendOwned(part)
	}
	return s
}

func TestQueryIntoFindsNeighborsWithinRadius(t *testing.T) {
	h := 0.5
	store := buildStore([][2]float64{
		{0, 0},   // self, index 0
		{0.1, 0}, // within h
		{2.0, 0}, // far away
	})
	g := NewNeighborGrid(0, 4, 0, 4, h)
	Build(g, store)

	var dst []int32
	dst = g.QueryInto(dst[:0], 0, 0, h, 0, store)

	if len(dst) != 1 || dst[0] != 1 {
		t.Fatalf("QueryInto() = %v, want [1]", dst)
	}
}

func TestQueryIntoExcludesSelf(t *testing.T) {
	h := 0.5
	store := buildStore([][2]float64{{0, 0}})
	g := NewNeighborGrid(0, 4, 0, 4, h)
	Build(g, store)

	var dst []int32
	dst = g.QueryInto(dst[:0], 0, 0, h, 0, store)
	if len(dst) != 0 {
		t.Errorf("QueryInto() = %v, want empty (self excluded)", dst)
	}
}

func TestQueryIntoCapsAtMaxNeighbors(t *testing.T) {
	h := 1.0
	positions := make([][2]float64, 0, MaxNeighbors+10)
	for i := 0; i < MaxNeighbors+10; i++ {
		positions = append(positions, [2]float64{0, 0})
	}
	store := buildStore(positions)
	g := NewNeighborGrid(0, 4, 0, 4, h)
	Build(g, store)

	var dst []int32
	dst = g.QueryInto(dst[:0], 0, 0, h, -1, store)
	if len(dst) != MaxNeighbors {
		t.Errorf("QueryInto() len = %d, want cap %d", len(dst), MaxNeighbors)
	}
}

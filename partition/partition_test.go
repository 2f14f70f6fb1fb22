package partition

import "testing"

func TestNewLayoutTilesDomain(t *testing.T) {
	l := NewLayout(4, 40, 1.0)
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if l.NumActive != 4 {
		t.Errorf("NumActive = %d, want 4", l.NumActive)
	}
}

func TestRemoveThenAddRestoresFourActive(t *testing.T) {
	// S6 from spec.md §8.
	l := NewLayout(4, 40, 1.0)

	if !l.RemovePartition() {
		t.Fatal("RemovePartition() = false, want true")
	}
	if l.NumActive != 3 {
		t.Fatalf("NumActive after remove = %d, want 3", l.NumActive)
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate() after remove = %v", err)
	}

	if !l.AddPartition() {
		t.Fatal("AddPartition() = false, want true")
	}
	if l.NumActive != 4 {
		t.Fatalf("NumActive after add = %d, want 4", l.NumActive)
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate() after add = %v", err)
	}

	for i := 0; i < l.NumActive; i++ {
		width := l.Ends[i] - l.Starts[i]
		if width < 2.5*1.0 {
			t.Errorf("slab %d width %v below 2.5*h", i, width)
		}
	}
}

func TestAddPartitionRefusesWhenSlabTooNarrow(t *testing.T) {
	l := NewLayout(2, 40, 100.0) // minSlabWidth absurdly large
	l.RemovePartition()
	if l.AddPartition() {
		t.Error("AddPartition() = true, want false (slab too narrow to split)")
	}
}

func TestRemovePartitionRefusesAtOne(t *testing.T) {
	l := NewLayout(2, 40, 1.0)
	l.RemovePartition()
	if l.RemovePartition() {
		t.Error("RemovePartition() = true at NumActive=1, want false")
	}
}

func TestNeighbors(t *testing.T) {
	l := NewLayout(4, 40, 1.0)
	if _, ok := l.LeftNeighbor(0); ok {
		t.Error("LeftNeighbor(0) should not exist")
	}
	if n, ok := l.LeftNeighbor(1); !ok || n != 0 {
		t.Errorf("LeftNeighbor(1) = (%d,%v), want (0,true)", n, ok)
	}
	if _, ok := l.RightNeighbor(3); ok {
		t.Error("RightNeighbor(3) should not exist (rightmost active)")
	}
	if n, ok := l.RightNeighbor(1); !ok || n != 2 {
		t.Errorf("RightNeighbor(1) = (%d,%v), want (2,true)", n, ok)
	}
}

// Package grid provides the uniform spatial hash used for SPH neighbor
// search: particles are bucketed by predicted position into cells sized to
// the smoothing radius h, and each owned particle scans its own bucket plus
// its 8 neighbors (spec.md §4.2).
package grid

import "github.com/pthm-cable/pbfcluster/particle"

// MaxNeighbors caps the number of neighbors kept per particle, bounding the
// Jacobi solve's per-particle work under a dense clump.
const MaxNeighbors = 64

// NeighborGrid buckets particle-store indices (owned and halo alike) by
// predicted position over a worker's slab plus its halo band. It is rebuilt
// from scratch every substep (spec.md §3: "not a persistent data structure").
type NeighborGrid struct {
	cellSize float64
	originX  float64 // slab_min_x_with_halo
	cols     int
	rows     int
	minY     float64
	cells    [][]int32
}

// NewNeighborGrid allocates a grid covering [originX, originX+width) x
// [minY, minY+height) with the given cell size (the smoothing radius h).
func NewNeighborGrid(originX, width, minY, height, cellSize float64) *NeighborGrid {
	cols := int(width/cellSize) + 1
	rows := int(height/cellSize) + 1
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	cells := make([][]int32, cols*rows)
	return &NeighborGrid{
		cellSize: cellSize,
		originX:  originX,
		cols:     cols,
		rows:     rows,
		minY:     minY,
		cells:    cells,
	}
}

// Reset clears every bucket without releasing backing arrays, so repeated
// per-substep rebuilds stay allocation-free after warm-up.
func (g *NeighborGrid) Reset() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert buckets the particle-store index idx at predicted position (x,y).
// Out-of-range positions clamp to the nearest edge cell rather than being
// dropped, since halo particles just inside the boundary must still land in
// a valid bucket.
func (g *NeighborGrid) Insert(idx int32, x, y float64) {
	c := g.cellIndex(x, y)
	g.cells[c] = append(g.cells[c], idx)
}

func (g *NeighborGrid) cellIndex(x, y float64) int {
	col := int((x - g.originX) / g.cellSize)
	row := int((y - g.minY) / g.cellSize)
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return row*g.cols + col
}

// QueryInto scans the bucket containing (x,y) and its 8 neighbors,
// appending every index within radius h (excluding self) to dst, up to
// MaxNeighbors. Returns the updated slice.
func (g *NeighborGrid) QueryInto(dst []int32, x, y, h float64, self int32, store *particle.Store) []int32 {
	centerCol := int((x - g.originX) / g.cellSize)
	centerRow := int((y - g.minY) / g.cellSize)
	hSq := h * h

	for dr := -1; dr <= 1; dr++ {
		row := centerRow + dr
		if row < 0 || row >= g.rows {
			continue
		}
		for dc := -1; dc <= 1; dc++ {
			col := centerCol + dc
			if col < 0 || col >= g.cols {
				continue
			}
			for _, j := range g.cells[row*g.cols+col] {
				if j == self {
					continue
				}
				p := store.At(int(j))
				dx := x - p.PX
				dy := y - p.PY
				distSq := dx*dx + dy*dy
				if distSq <= hSq {
					dst = append(dst, j)
					if len(dst) >= MaxNeighbors {
						return dst
					}
				}
			}
		}
	}
	return dst
}

// Build clears the grid and re-inserts every owned+halo particle in store
// at its predicted position, per spec.md §4.2 ("Inputs: predicted positions
// of all local+halo particles").
func Build(g *NeighborGrid, store *particle.Store) {
	g.Reset()
	total := store.Total()
	for i := 0; i < total; i++ {
		p := store.At(i)
		g.Insert(int32(i), p.PX, p.PY)
	}
}

// Package grid owns the spatial partitioning of a recording's field of view
// into an N×N lattice of squares, and the assignment of track positions to
// those squares.
//
// Partitioning and assignment are pure and deterministic: no I/O, no shared
// state. Squares use half-open intervals [left, right) on both axes, except
// the last row/column which closes its outer edge so points landing exactly
// on the field boundary are never lost.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidResolution is returned when the requested grid resolution is
// below 1. It is a configuration error: no square statistics are meaningful
// without a valid grid.
var ErrInvalidResolution = errors.New("grid resolution must be at least 1")

// boundaryTol is the relative floating-point tolerance applied to the outer
// field boundary. Points beyond W/H by more than this are out of range.
const boundaryTol = 1e-9

// BBox is an axis-aligned bounding box in physical units.
type BBox struct {
	X0, Y0, X1, Y1 float64
}

// Area returns the box area.
func (b BBox) Area() float64 {
	return (b.X1 - b.X0) * (b.Y1 - b.Y0)
}

// Cell is one square of the grid: its 0-based row/column (row-major) and
// bounding box.
type Cell struct {
	Row  int
	Col  int
	BBox BBox
}

// Grid is the N×N partition of a W×H field of view.
type Grid struct {
	W, H  float64
	N     int
	Cells []Cell // row-major, len N²
}

// Partition builds the N² grid cells covering [0,W]×[0,H].
// The union of cell bounding boxes tiles the field exactly with no gaps or
// overlaps. Fails only for n < 1.
func Partition(w, h float64, n int) (*Grid, error) {
	if n < 1 {
		return nil, fmt.Errorf("partition %dx%d: %w", n, n, ErrInvalidResolution)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("partition: field dimensions must be positive, got %gx%g", w, h)
	}

	cells := make([]Cell, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			cells = append(cells, Cell{
				Row: row,
				Col: col,
				BBox: BBox{
					X0: float64(col) * w / float64(n),
					X1: float64(col+1) * w / float64(n),
					Y0: float64(row) * h / float64(n),
					Y1: float64(row+1) * h / float64(n),
				},
			})
		}
	}

	return &Grid{W: w, H: h, N: n, Cells: cells}, nil
}

// Index returns the row-major cell index for (row, col).
func (g *Grid) Index(row, col int) int {
	return row*g.N + col
}

// CellArea returns the area of one grid cell.
func (g *Grid) CellArea() float64 {
	return (g.W / float64(g.N)) * (g.H / float64(g.N))
}

// Locate maps a point to its cell. Every in-bounds point belongs to exactly
// one cell: interior edges are half-open, and the outer boundary (x == W or
// y == H, within floating-point tolerance) is clamped into the last
// row/column. ok is false for out-of-range points.
func (g *Grid) Locate(x, y float64) (row, col int, ok bool) {
	col, ok = locateAxis(x, g.W, g.N)
	if !ok {
		return 0, 0, false
	}
	row, ok = locateAxis(y, g.H, g.N)
	if !ok {
		return 0, 0, false
	}
	return row, col, true
}

func locateAxis(v, extent float64, n int) (int, bool) {
	if math.IsNaN(v) || v < 0 {
		return 0, false
	}
	if v > extent {
		if v-extent > boundaryTol*math.Max(1, extent) {
			return 0, false
		}
		return n - 1, true // on the outer boundary within tolerance
	}
	idx := int(math.Floor(v / (extent / float64(n))))
	if idx >= n {
		idx = n - 1 // v == extent exactly
	}
	return idx, true
}

// Point is a representative track position in physical units.
type Point struct {
	X, Y float64
}

// Assignment is the result of bucketing points into grid cells.
type Assignment struct {
	// CellOf holds, per point, the row-major cell index, or -1 for points
	// excluded as out of range.
	CellOf []int
	// Members holds, per cell, the indices of the points inside it.
	Members [][]int
	// Skipped counts excluded points. Out-of-range positions are a data
	// quality signal, not a fatal error.
	Skipped int
}

// Assign buckets the given points into the grid's cells. Each in-bounds
// point is assigned to exactly one cell.
func (g *Grid) Assign(pts []Point) Assignment {
	a := Assignment{
		CellOf:  make([]int, len(pts)),
		Members: make([][]int, len(g.Cells)),
	}
	for i, p := range pts {
		row, col, ok := g.Locate(p.X, p.Y)
		if !ok {
			a.CellOf[i] = -1
			a.Skipped++
			continue
		}
		idx := g.Index(row, col)
		a.CellOf[i] = idx
		a.Members[idx] = append(a.Members[idx], i)
	}
	return a
}

// Package spatial provides the broad-phase grid used for collision queries.
//
// The grid stores integer indices, not pointers, in preallocated cells so a
// per-tick rebuild allocates nothing once warmed up.
package spatial

import "math"

// Grid buckets points into fixed-size cells in row-major order
// (cells[row*cols+col]). Points outside the bounds are clamped into the
// border cells, so queries stay correct for entities that leave the arena.
type Grid struct {
	cellSize    float64
	invCellSize float64
	cols, rows  int
	cells       [][]uint32
	scratch     []uint32
	count       int
}

// NewGrid creates a grid covering width x height. capacityHint spreads an
// initial per-cell capacity.
func NewGrid(width, height, cellSize float64, capacityHint int) *Grid {
	if cellSize <= 0 {
		cellSize = 64
	}
	cols := max(1, int(math.Ceil(width/cellSize)))
	rows := max(1, int(math.Ceil(height/cellSize)))

	cells := make([][]uint32, cols*rows)
	perCell := max(4, capacityHint/len(cells))
	for i := range cells {
		cells[i] = make([]uint32, 0, perCell)
	}

	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]uint32, 0, 64),
	}
}

// Clear empties every cell, keeping capacity.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
	g.count = 0
}

func (g *Grid) col(x float64) int {
	return min(max(int(math.Floor(x*g.invCellSize)), 0), g.cols-1)
}

func (g *Grid) row(y float64) int {
	return min(max(int(math.Floor(y*g.invCellSize)), 0), g.rows-1)
}

// Insert adds id at (x, y).
func (g *Grid) Insert(id uint32, x, y float64) {
	idx := g.row(y)*g.cols + g.col(x)
	g.cells[idx] = append(g.cells[idx], id)
	g.count++
}

// QueryRect returns the ids in every cell overlapped by the rectangle.
// Candidates may lie outside it; callers do the exact test.
//
// The returned slice is reused by the next query.
func (g *Grid) QueryRect(minX, minY, maxX, maxY float64) []uint32 {
	g.scratch = g.scratch[:0]
	c0, c1 := g.col(minX), g.col(maxX)
	r0, r1 := g.row(minY), g.row(maxY)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			g.scratch = append(g.scratch, g.cells[r*g.cols+c]...)
		}
	}
	return g.scratch
}

// QueryRadius is QueryRect over the circle's bounding box.
func (g *Grid) QueryRadius(cx, cy, radius float64) []uint32 {
	return g.QueryRect(cx-radius, cy-radius, cx+radius, cy+radius)
}

// Len returns the number of inserted ids.
func (g *Grid) Len() int {
	return g.count
}

// Stats summarizes cell occupancy.
type Stats struct {
	Cells     int
	NonEmpty  int
	Entries   int
	MaxInCell int
}

func (g *Grid) Stats() Stats {
	st := Stats{Cells: len(g.cells), Entries: g.count}
	for _, cell := range g.cells {
		if len(cell) > 0 {
			st.NonEmpty++
		}
		st.MaxInCell = max(st.MaxInCell, len(cell))
	}
	return st
}

// Dimensions returns the grid size in cells and the cell edge length.
func (g *Grid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}

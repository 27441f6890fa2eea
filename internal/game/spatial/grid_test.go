package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestGridQueryRect checks that neighbors are found across cell borders
// and distant points are not.
func TestGridQueryRect(t *testing.T) {
	g := NewGrid(640, 480, 64, 16)
	g.Insert(1, 60, 60)
	g.Insert(2, 70, 60)
	g.Insert(3, 600, 400)

	got := g.QueryRect(50, 50, 80, 70)
	assert.ElementsMatch(t, []uint32{1, 2}, got)
	assert.Equal(t, 3, g.Len())
}

// TestGridClampsOutOfBounds verifies off-arena points land in border cells.
func TestGridClampsOutOfBounds(t *testing.T) {
	g := NewGrid(128, 128, 64, 0)
	g.Insert(7, -500, -500)
	g.Insert(8, 9999, 9999)

	assert.Equal(t, []uint32{7}, g.QueryRadius(0, 0, 1))
	assert.Equal(t, []uint32{8}, g.QueryRadius(127, 127, 1))
}

func TestGridClearKeepsDimensions(t *testing.T) {
	g := NewGrid(100, 50, 25, 8)
	g.Insert(1, 10, 10)
	g.Clear()

	cols, rows, size := g.Dimensions()
	assert.Equal(t, 4, cols)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 25.0, size)
	assert.Empty(t, g.QueryRect(0, 0, 100, 50))

	st := g.Stats()
	assert.Equal(t, 8, st.Cells)
	assert.Equal(t, 0, st.Entries)
}

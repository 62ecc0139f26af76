// Package grid holds quantized frames and the diffs between them.
package grid

import (
	"errors"
	"fmt"

	"voxelcast.ai/internal/render/palette"
)

var ErrDimensionMismatch = errors.New("grid: dimension mismatch")

// CellGrid is the cell state of one render footprint, row-major. It is never
// mutated after construction; a session replaces it wholesale.
type CellGrid struct {
	w, h  int
	cells []palette.CellType
}

// New takes ownership of cells, which must hold w*h entries.
func New(w, h int, cells []palette.CellType) (*CellGrid, error) {
	if w <= 0 || h <= 0 || len(cells) != w*h {
		return nil, fmt.Errorf("grid: %dx%d with %d cells", w, h, len(cells))
	}
	return &CellGrid{w: w, h: h, cells: cells}, nil
}

// Filled returns a w x h grid of t.
func Filled(w, h int, t palette.CellType) *CellGrid {
	cells := make([]palette.CellType, w*h)
	if t != 0 {
		for i := range cells {
			cells[i] = t
		}
	}
	return &CellGrid{w: w, h: h, cells: cells}
}

func (g *CellGrid) Width() int  { return g.w }
func (g *CellGrid) Height() int { return g.h }

func (g *CellGrid) At(x, y int) palette.CellType { return g.cells[y*g.w+x] }

// Change sets the cell at frame coordinate (X, Y) to Type.
type Change struct {
	X, Y int
	Type palette.CellType
}

// Diff is a row-major list of changes. A coordinate appears at most once.
type Diff []Change

// Compute lists the cells of next that differ from prev, in row-major order.
// A nil prev is the unset grid: every cell of next that is not Empty is listed.
func Compute(prev, next *CellGrid) (Diff, error) {
	if prev != nil && (prev.w != next.w || prev.h != next.h) {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrDimensionMismatch, prev.w, prev.h, next.w, next.h)
	}
	var d Diff
	for i, t := range next.cells {
		if prev == nil {
			if t == palette.Empty {
				continue
			}
		} else if prev.cells[i] == t {
			continue
		}
		d = append(d, Change{X: i % next.w, Y: i / next.w, Type: t})
	}
	return d, nil
}

// Clear lists every cell of a w x h footprint set to Empty.
func Clear(w, h int) Diff {
	d := make(Diff, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d = append(d, Change{X: x, Y: y, Type: palette.Empty})
		}
	}
	return d
}

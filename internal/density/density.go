// Package density holds the per-cell event counts of one aggregation run.
package density

import (
	"errors"
	"fmt"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

// ErrIndexOutOfRange is returned when an index falls outside the grid shape.
// Reaching it from a run means the mapper is broken, not the input.
var ErrIndexOutOfRange = errors.New("cell index out of range")

// ErrGridTooLarge is returned when a shape needs more cells than the budget allows.
var ErrGridTooLarge = errors.New("grid too large")

const (
	// DefaultMaxCells is the per-grid budget when none is configured: 16M cells,
	// 128 MiB of counts.
	DefaultMaxCells = 1 << 24
	// MaxCells is the hard ceiling no configured budget may exceed (2 GiB of counts).
	MaxCells = 1 << 28
)

// CheckShape reports whether shape is positive and fits in maxCells cells.
// A non-positive maxCells means DefaultMaxCells; values above MaxCells are capped.
func CheckShape(shape model.Shape, maxCells int) error {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return fmt.Errorf("invalid grid shape %s", shape)
	}
	limit := Budget(maxCells)
	if shape.Rows > limit/shape.Cols {
		return fmt.Errorf("%w: shape %s exceeds %d cells", ErrGridTooLarge, shape, limit)
	}
	return nil
}

// Budget normalises a configured cell budget.
func Budget(maxCells int) int {
	if maxCells <= 0 {
		return DefaultMaxCells
	}
	return min(maxCells, MaxCells)
}

// Grid is a rows x cols matrix of non-negative counts stored row-major.
// Not safe for concurrent writers; parallel runs use one Grid per worker.
type Grid struct {
	shape  model.Shape
	counts []uint64
}

// New allocates a zeroed grid. Shapes above MaxCells are rejected; callers
// enforce tighter budgets when shaping the grid.
func New(shape model.Shape) (*Grid, error) {
	if err := CheckShape(shape, MaxCells); err != nil {
		return nil, err
	}
	return &Grid{shape: shape, counts: make([]uint64, shape.Cells())}, nil
}

func (g *Grid) Shape() model.Shape { return g.shape }

// Increment adds one event to idx.
func (g *Grid) Increment(idx model.Index) error {
	if !g.shape.Contains(idx) {
		return fmt.Errorf("%w: (%d, %d) in shape %s", ErrIndexOutOfRange, idx.Row, idx.Col, g.shape)
	}
	g.counts[idx.Row*g.shape.Cols+idx.Col]++
	return nil
}

// Snapshot copies the current counts. The grid may keep changing afterwards.
func (g *Grid) Snapshot() Snapshot {
	cp := make([]uint64, len(g.counts))
	copy(cp, g.counts)
	return Snapshot{shape: g.shape, counts: cp}
}

// Merge adds every part into dst cell by cell. All grids must share dst's shape.
func Merge(dst *Grid, parts ...*Grid) error {
	for i, p := range parts {
		if p == nil {
			continue
		}
		if p.shape != dst.shape {
			return fmt.Errorf("merge part %d: shape %s does not match %s", i, p.shape, dst.shape)
		}
	}
	for _, p := range parts {
		if p == nil || p == dst {
			continue
		}
		for i, n := range p.counts {
			dst.counts[i] += n
		}
	}
	return nil
}

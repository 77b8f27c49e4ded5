package density

import (
	"encoding/json"
	"fmt"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

// Snapshot is an immutable view of a Grid. The zero value is an empty 0x0 grid.
type Snapshot struct {
	shape  model.Shape
	counts []uint64
}

func (s Snapshot) Shape() model.Shape { return s.shape }
func (s Snapshot) Rows() int          { return s.shape.Rows }
func (s Snapshot) Cols() int          { return s.shape.Cols }

// At returns the count at (row, col), or 0 outside the grid.
func (s Snapshot) At(row, col int) uint64 {
	if !s.shape.Contains(model.Index{Row: row, Col: col}) {
		return 0
	}
	return s.counts[row*s.shape.Cols+col]
}

// Total is the sum of all cells.
func (s Snapshot) Total() uint64 {
	var t uint64
	for _, n := range s.counts {
		t += n
	}
	return t
}

// Populated counts non-zero cells.
func (s Snapshot) Populated() int {
	n := 0
	for _, c := range s.counts {
		if c > 0 {
			n++
		}
	}
	return n
}

// Each calls fn for every non-zero cell in row-major order.
func (s Snapshot) Each(fn func(idx model.Index, count uint64)) {
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		fn(model.Index{Row: i / s.shape.Cols, Col: i % s.shape.Cols}, c)
	}
}

// Cell is one populated entry in the sparse encoding.
type Cell struct {
	Row   int    `json:"row" yaml:"row"`
	Col   int    `json:"col" yaml:"col"`
	Count uint64 `json:"count" yaml:"count"`
}

// Cells returns the sparse list of populated cells.
func (s Snapshot) Cells() []Cell {
	out := make([]Cell, 0, s.Populated())
	s.Each(func(idx model.Index, n uint64) {
		out = append(out, Cell{Row: idx.Row, Col: idx.Col, Count: n})
	})
	return out
}

type snapshotJSON struct {
	Rows  int    `json:"rows"`
	Cols  int    `json:"cols"`
	Cells []Cell `json:"cells"`
}

// MarshalJSON writes the sparse form; grids are mostly empty.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Rows: s.shape.Rows, Cols: s.shape.Cols, Cells: s.Cells()})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	shape := model.Shape{Rows: raw.Rows, Cols: raw.Cols}
	if raw.Rows < 0 || raw.Cols < 0 {
		return fmt.Errorf("invalid snapshot shape %s", shape)
	}
	if raw.Rows > 0 && raw.Cols > 0 {
		if err := CheckShape(shape, MaxCells); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
	}
	counts := make([]uint64, shape.Cells())
	for _, c := range raw.Cells {
		idx := model.Index{Row: c.Row, Col: c.Col}
		if !shape.Contains(idx) {
			return fmt.Errorf("%w: (%d, %d) in shape %s", ErrIndexOutOfRange, c.Row, c.Col, shape)
		}
		counts[c.Row*shape.Cols+c.Col] = c.Count
	}
	*s = Snapshot{shape: shape, counts: counts}
	return nil
}

package grid

import (
	"fmt"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

// Mapper assigns coordinates to cells of a grid derived from fixed bounds.
// It is immutable after New and safe for concurrent use.
type Mapper struct {
	bounds model.GeoBounds
	digits precision.Digits
	scale  float64
	shape  model.Shape
}

// New derives the grid shape once for b. Bounds are expected to be truncated
// to d already (bounds.Calculate / bounds.Fixed).
func New(b model.GeoBounds, d precision.Digits) (*Mapper, error) {
	return NewWithin(b, d, 0)
}

// NewWithin is New with an explicit cell budget.
func NewWithin(b model.GeoBounds, d precision.Digits, maxCells int) (*Mapper, error) {
	shape, err := ShapeWithin(b, d, maxCells)
	if err != nil {
		return nil, err
	}
	return &Mapper{bounds: b, digits: d, scale: precision.Scale(d), shape: shape}, nil
}

func (m *Mapper) Shape() model.Shape { return m.shape }

func (m *Mapper) Bounds() model.GeoBounds { return m.bounds }

func (m *Mapper) Digits() precision.Digits { return m.digits }

// Map places c on the grid. Rejections are reported through the Outcome; an
// error means the index arithmetic produced something the grid cannot hold.
func (m *Mapper) Map(c model.Coordinate) (model.Index, model.Outcome, error) {
	lat := precision.Truncate(c.Lat, m.digits)
	lon := precision.Truncate(c.Lon, m.digits)

	if precision.IsSentinel(lat, m.digits) || precision.IsSentinel(lon, m.digits) {
		return model.Index{}, model.RejectedSentinel, nil
	}
	b := m.bounds
	if lat > b.MaxLat || lon > b.MaxLon {
		return model.Index{}, model.RejectedAboveBounds, nil
	}
	if lat < b.MinLat || lon < b.MinLon {
		return model.Index{}, model.RejectedBelowBounds, nil
	}

	idx := model.Index{
		Row: precision.Cells(lat-b.MinLat, m.digits),
		Col: precision.Cells(lon-b.MinLon, m.digits),
	}
	// values sitting exactly on the max edge land in the last cell
	if idx.Row == m.shape.Rows {
		idx.Row = m.shape.Rows - 1
	}
	if idx.Col == m.shape.Cols {
		idx.Col = m.shape.Cols - 1
	}
	if !m.shape.Contains(idx) {
		return model.Index{}, model.Accepted, fmt.Errorf("%w: (%d, %d) for (%v, %v) in shape %s",
			density.ErrIndexOutOfRange, idx.Row, idx.Col, c.Lat, c.Lon, m.shape)
	}
	return idx, model.Accepted, nil
}

// CellBounds returns the lat/lon extent covered by idx. A cell is centred on
// MinLat+row/10^d because indices are rounded, so it spans half a step either side.
func CellBounds(b model.GeoBounds, d precision.Digits, idx model.Index) model.GeoBounds {
	step := 1 / precision.Scale(d)
	lat := b.MinLat + float64(idx.Row)*step
	lon := b.MinLon + float64(idx.Col)*step
	return model.GeoBounds{
		MinLat: lat - step/2,
		MaxLat: lat + step/2,
		MinLon: lon - step/2,
		MaxLon: lon + step/2,
	}
}

// Center returns the cell's reference point.
func Center(b model.GeoBounds, d precision.Digits, idx model.Index) model.Coordinate {
	step := 1 / precision.Scale(d)
	return model.Coordinate{
		Lat: b.MinLat + float64(idx.Row)*step,
		Lon: b.MinLon + float64(idx.Col)*step,
	}
}

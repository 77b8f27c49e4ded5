// Package model defines core domain types shared across the heatmap engine.
package model

import "fmt"

// Coordinate is one raw event location. A component equal to 0.0 marks a
// missing value substituted by the record source.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// GeoBounds is the rectangular lat/lon window spanned by a grid.
type GeoBounds struct {
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
}

// String representation in minLat,minLon,maxLat,maxLon order (same as the config surface)
func (b GeoBounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Shape is the (rows, cols) extent of a grid. Rows follow latitude, cols longitude.
type Shape struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)
}

// Cells returns rows*cols.
func (s Shape) Cells() int { return s.Rows * s.Cols }

// Contains reports whether idx lies in [0,rows) x [0,cols).
func (s Shape) Contains(idx Index) bool {
	return idx.Row >= 0 && idx.Row < s.Rows && idx.Col >= 0 && idx.Col < s.Cols
}

type Index struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// Outcome is the per-coordinate result of mapping onto a grid.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedSentinel
	RejectedAboveBounds
	RejectedBelowBounds
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedSentinel:
		return "rejected_sentinel"
	case RejectedAboveBounds:
		return "rejected_above"
	case RejectedBelowBounds:
		return "rejected_below"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Rejected reports whether the coordinate was filtered out.
func (o Outcome) Rejected() bool { return o != Accepted }

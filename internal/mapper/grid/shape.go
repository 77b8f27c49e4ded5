// Package grid maps truncated coordinates onto a fixed-resolution lat/lon grid.
package grid

import (
	"fmt"
	"math"

	"github.com/mohammed-shakir/geo-heatmap/internal/bounds"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

// ShapeFor returns the grid extent for b at d digits: one cell per 10^-d degrees,
// rounded half to even. The shape must fit density.DefaultMaxCells.
func ShapeFor(b model.GeoBounds, d precision.Digits) (model.Shape, error) {
	return ShapeWithin(b, d, 0)
}

// ShapeWithin is ShapeFor with an explicit cell budget (see density.Budget).
// Over-budget shapes fail with density.ErrGridTooLarge before anything is allocated.
func ShapeWithin(b model.GeoBounds, d precision.Digits, maxCells int) (model.Shape, error) {
	if err := precision.Validate(d); err != nil {
		return model.Shape{}, err
	}
	limit := density.Budget(maxCells)
	// sized in float first so extreme extents never reach the int conversion
	scale, fl := precision.Scale(d), float64(limit)
	rf := math.RoundToEven((b.MaxLat - b.MinLat) * scale)
	cf := math.RoundToEven((b.MaxLon - b.MinLon) * scale)
	if rf > fl || cf > fl || (rf > 0 && cf > 0 && rf*cf > fl) {
		return model.Shape{}, fmt.Errorf("%w: bounds %s at %d digits need %.0f x %.0f cells, budget %d",
			density.ErrGridTooLarge, b, d, rf, cf, limit)
	}
	s := model.Shape{Rows: int(rf), Cols: int(cf)}
	if s.Rows <= 0 || s.Cols <= 0 {
		return model.Shape{}, fmt.Errorf("%w: shape %s for bounds %s at %d digits",
			bounds.ErrDegenerateBounds, s, b, d)
	}
	if err := density.CheckShape(s, limit); err != nil {
		return model.Shape{}, fmt.Errorf("bounds %s at %d digits: %w", b, d, err)
	}
	return s, nil
}

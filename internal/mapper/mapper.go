// Package mapper converts geographic coordinates into grid cell indices.
package mapper

import (
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

type Interface interface {
	Map(c model.Coordinate) (model.Index, model.Outcome, error)
	Shape() model.Shape
}

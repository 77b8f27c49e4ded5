// Package source defines where aggregation runs get their records from.
package source

import (
	"context"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

// Interface materialises one full batch of records. Missing or unparseable
// components are returned as 0.0, never dropped, so record counts stay exact.
type Interface interface {
	Load(ctx context.Context) ([]model.Coordinate, error)
	Name() string
}

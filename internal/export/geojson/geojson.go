// Package geojson exports a density grid as an RFC 7946 FeatureCollection
// with one Polygon feature per populated cell.
package geojson

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
	"github.com/mohammed-shakir/geo-heatmap/internal/mapper/grid"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

type Geometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64  `json:"coordinates"`
}

type Properties struct {
	Count uint64         `json:"count"`
	Tier  intensity.Tier `json:"tier"`
	Row   int            `json:"row"`
	Col   int            `json:"col"`
}

// Options filters and orders the exported features. The zero value exports
// every populated cell in row-major order.
type Options struct {
	MinTier     intensity.Tier
	SortByCount bool
	Limit       int
}

// Build converts res into a FeatureCollection. Cells are classified with cls.
func Build(res *aggregate.Result, cls *intensity.Classifier, opts Options) (FeatureCollection, error) {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	if res == nil {
		return fc, fmt.Errorf("nil result")
	}
	if cls == nil {
		return fc, fmt.Errorf("nil classifier")
	}
	if opts.Limit < 0 {
		return fc, fmt.Errorf("invalid limit %d", opts.Limit)
	}

	res.Grid.Each(func(idx model.Index, n uint64) {
		tier := cls.Classify(n)
		if tier < opts.MinTier {
			return
		}
		cb := grid.CellBounds(res.Bounds, res.Digits, idx)
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			ID:       fmt.Sprintf("%d:%d", idx.Row, idx.Col),
			Geometry: polygon(cb),
			Properties: Properties{
				Count: n,
				Tier:  tier,
				Row:   idx.Row,
				Col:   idx.Col,
			},
		})
	})

	if opts.SortByCount {
		sort.SliceStable(fc.Features, func(i, j int) bool {
			return fc.Features[i].Properties.Count > fc.Features[j].Properties.Count
		})
	}
	if opts.Limit > 0 && len(fc.Features) > opts.Limit {
		fc.Features = fc.Features[:opts.Limit]
	}
	return fc, nil
}

// Write encodes the collection built from res to w.
func Write(w io.Writer, res *aggregate.Result, cls *intensity.Classifier, opts Options) error {
	fc, err := Build(res, cls, opts)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return nil
}

// polygon returns a closed counter-clockwise ring in lon,lat order.
func polygon(b model.GeoBounds) Geometry {
	return Geometry{
		Type: "Polygon",
		Coordinates: [][][2]float64{{
			{b.MinLon, b.MinLat},
			{b.MaxLon, b.MinLat},
			{b.MaxLon, b.MaxLat},
			{b.MinLon, b.MaxLat},
			{b.MinLon, b.MinLat},
		}},
	}
}

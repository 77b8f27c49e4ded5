// Package h3mapper re-bins populated grid cells into H3 hexagons.
package h3mapper

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/mapper/grid"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

// Hex is one H3 cell with the summed counts of the grid cells whose centre
// falls inside it.
type Hex struct {
	Cell     string             `json:"cell"`
	Count    uint64             `json:"count"`
	Cells    int                `json:"grid_cells"`
	Center   model.Coordinate   `json:"center"`
	Boundary []model.Coordinate `json:"boundary"`
}

// Rollup assigns every populated cell of snap to the H3 cell containing its
// centre at resolution res. Output is sorted by count descending, then cell id.
func Rollup(snap density.Snapshot, b model.GeoBounds, d precision.Digits, res int) ([]Hex, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}

	acc := map[h3.Cell]*Hex{}
	var ferr error
	snap.Each(func(idx model.Index, n uint64) {
		if ferr != nil {
			return
		}
		c := grid.Center(b, d, idx)
		cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat, Lng: c.Lon}, res)
		if err != nil {
			ferr = fmt.Errorf("h3 cell for (%d, %d): %w", idx.Row, idx.Col, err)
			return
		}
		hx, ok := acc[cell]
		if !ok {
			hx = &Hex{Cell: cell.String()}
			acc[cell] = hx
		}
		hx.Count += n
		hx.Cells++
	})
	if ferr != nil {
		return nil, ferr
	}

	out := make([]Hex, 0, len(acc))
	for cell, hx := range acc {
		if err := describe(cell, hx); err != nil {
			return nil, err
		}
		out = append(out, *hx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Cell < out[j].Cell
	})
	return out, nil
}

func describe(cell h3.Cell, hx *Hex) error {
	ll, err := cell.LatLng()
	if err != nil {
		return fmt.Errorf("h3 centre of %s: %w", hx.Cell, err)
	}
	hx.Center = model.Coordinate{Lat: ll.Lat, Lon: ll.Lng}

	bnd, err := cell.Boundary()
	if err != nil {
		return fmt.Errorf("h3 boundary of %s: %w", hx.Cell, err)
	}
	hx.Boundary = make([]model.Coordinate, 0, len(bnd))
	for _, v := range bnd {
		hx.Boundary = append(hx.Boundary, model.Coordinate{Lat: v.Lat, Lon: v.Lng})
	}
	return nil
}

// ToParent coarsens hexes to parentRes, merging counts of siblings.
func ToParent(hexes []Hex, parentRes int) ([]Hex, error) {
	if err := validateRes(parentRes); err != nil {
		return nil, err
	}
	acc := map[h3.Cell]*Hex{}
	for _, hx := range hexes {
		var c h3.Cell
		if err := c.UnmarshalText([]byte(hx.Cell)); err != nil {
			return nil, fmt.Errorf("parse cell: %w", err)
		}
		if !c.IsValid() {
			return nil, fmt.Errorf("invalid h3 cell %q", hx.Cell)
		}
		if parentRes > c.Resolution() {
			return nil, fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, c.Resolution())
		}
		p := c
		if parentRes < c.Resolution() {
			var err error
			if p, err = c.Parent(parentRes); err != nil {
				return nil, fmt.Errorf("h3 parent: %w", err)
			}
		}
		agg, ok := acc[p]
		if !ok {
			agg = &Hex{Cell: p.String()}
			acc[p] = agg
		}
		agg.Count += hx.Count
		agg.Cells += hx.Cells
	}

	out := make([]Hex, 0, len(acc))
	for cell, hx := range acc {
		if err := describe(cell, hx); err != nil {
			return nil, err
		}
		out = append(out, *hx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Cell < out[j].Cell
	})
	return out, nil
}

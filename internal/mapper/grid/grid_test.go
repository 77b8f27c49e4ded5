package grid

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/geo-heatmap/internal/bounds"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

var campus = model.GeoBounds{MinLat: 30.2804, MinLon: -97.7551, MaxLat: 30.2985, MaxLon: -97.7242}

func TestShapeFor_Campus(t *testing.T) {
	s, err := ShapeFor(campus, 4)
	if err != nil {
		t.Fatalf("ShapeFor: %v", err)
	}
	if s != (model.Shape{Rows: 181, Cols: 309}) {
		t.Fatalf("shape=%s want (181, 309)", s)
	}
	if s.String() != "(181, 309)" {
		t.Fatalf("String()=%q", s.String())
	}
}

func TestShapeFor_Degenerate(t *testing.T) {
	flat := campus
	flat.MaxLat = flat.MinLat
	if _, err := ShapeFor(flat, 4); !errors.Is(err, bounds.ErrDegenerateBounds) {
		t.Fatalf("expected ErrDegenerateBounds, got %v", err)
	}
	// extent rounds to zero cells at this precision
	thin := model.GeoBounds{MinLat: 30.2804, MaxLat: 30.28044, MinLon: -97.7551, MaxLon: -97.7242}
	if _, err := ShapeFor(thin, 4); !errors.Is(err, bounds.ErrDegenerateBounds) {
		t.Fatalf("expected ErrDegenerateBounds for thin extent, got %v", err)
	}
	if _, err := ShapeFor(campus, -2); err == nil {
		t.Fatalf("expected precision error")
	}
}

func TestShapeFor_CellBudget(t *testing.T) {
	cases := map[string]struct {
		b model.GeoBounds
		d precision.Digits
	}{
		"one degree at 9 digits": {model.GeoBounds{MinLat: 30, MinLon: -98, MaxLat: 31, MaxLon: -97}, 9},
		"globe at 9 digits":      {model.GeoBounds{MinLat: -80, MinLon: -170, MaxLat: 80, MaxLon: 170}, 9},
		"globe at 4 digits":      {model.GeoBounds{MinLat: -80, MinLon: -170, MaxLat: 80, MaxLon: 170}, 4},
		"city at 5 digits":       {model.GeoBounds{MinLat: 30.1, MinLon: -97.95, MaxLat: 30.5, MaxLon: -97.55}, 5},
		"absurd extent":          {model.GeoBounds{MinLat: -1e300, MinLon: -1, MaxLat: 1e300, MaxLon: 1}, 4},
	}
	for name, c := range cases {
		if _, err := ShapeFor(c.b, c.d); !errors.Is(err, density.ErrGridTooLarge) {
			t.Fatalf("%s: expected ErrGridTooLarge, got %v", name, err)
		}
	}

	// 181 x 309 = 55929 cells
	if _, err := ShapeWithin(campus, 4, 55929); err != nil {
		t.Fatalf("exact budget: %v", err)
	}
	if _, err := ShapeWithin(campus, 4, 55928); !errors.Is(err, density.ErrGridTooLarge) {
		t.Fatalf("one cell short: expected ErrGridTooLarge, got %v", err)
	}
	if _, err := NewWithin(campus, 4, 1000); !errors.Is(err, density.ErrGridTooLarge) {
		t.Fatalf("NewWithin: expected ErrGridTooLarge, got %v", err)
	}
	// a flipped extent is still degenerate, not too large
	flipped := model.GeoBounds{MinLat: 80, MinLon: 170, MaxLat: -80, MaxLon: -170}
	if _, err := ShapeFor(flipped, 9); !errors.Is(err, bounds.ErrDegenerateBounds) {
		t.Fatalf("flipped: expected ErrDegenerateBounds, got %v", err)
	}
}

func TestMap_Outcomes(t *testing.T) {
	m, err := New(campus, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		name    string
		in      model.Coordinate
		want    model.Index
		outcome model.Outcome
	}{
		{"interior", model.Coordinate{Lat: 30.29, Lon: -97.74}, model.Index{Row: 96, Col: 151}, model.Accepted},
		{"origin", model.Coordinate{Lat: 30.2804, Lon: -97.7551}, model.Index{}, model.Accepted},
		{"max corner clamps", model.Coordinate{Lat: 30.2985, Lon: -97.7242}, model.Index{Row: 180, Col: 308}, model.Accepted},
		{"extra digits truncated", model.Coordinate{Lat: 30.29009, Lon: -97.74009}, model.Index{Row: 96, Col: 151}, model.Accepted},
		{"missing lat", model.Coordinate{Lat: 0.0, Lon: -97.73}, model.Index{}, model.RejectedSentinel},
		{"missing lon", model.Coordinate{Lat: 30.29, Lon: 0.00004}, model.Index{}, model.RejectedSentinel},
		{"above", model.Coordinate{Lat: 30.30, Lon: -97.70}, model.Index{}, model.RejectedAboveBounds},
		{"lat just above after truncation", model.Coordinate{Lat: 30.29876, Lon: -97.74}, model.Index{}, model.RejectedAboveBounds},
		{"below lat", model.Coordinate{Lat: 30.28, Lon: -97.74}, model.Index{}, model.RejectedBelowBounds},
		{"below lon", model.Coordinate{Lat: 30.29, Lon: -97.76}, model.Index{}, model.RejectedBelowBounds},
	}
	for _, c := range cases {
		idx, out, err := m.Map(c.in)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
		if out != c.outcome {
			t.Fatalf("%s: outcome=%s want %s", c.name, out, c.outcome)
		}
		if out == model.Accepted && idx != c.want {
			t.Fatalf("%s: idx=%+v want %+v", c.name, idx, c.want)
		}
	}
}

func TestMap_AlwaysInsideShape(t *testing.T) {
	m, err := New(campus, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := m.Shape()
	for lat := 30.2800; lat <= 30.2990; lat += 0.00037 {
		for lon := -97.7560; lon <= -97.7235; lon += 0.00041 {
			idx, out, err := m.Map(model.Coordinate{Lat: lat, Lon: lon})
			if err != nil {
				t.Fatalf("Map(%v,%v): %v", lat, lon, err)
			}
			if out == model.Accepted && !s.Contains(idx) {
				t.Fatalf("Map(%v,%v)=%+v outside %s", lat, lon, idx, s)
			}
		}
	}
}

func TestCenterAndCellBounds(t *testing.T) {
	c := Center(campus, 4, model.Index{Row: 96, Col: 151})
	if d := c.Lat - 30.29; d > 1e-9 || d < -1e-9 {
		t.Fatalf("center lat=%v", c.Lat)
	}
	if d := c.Lon + 97.74; d > 1e-9 || d < -1e-9 {
		t.Fatalf("center lon=%v", c.Lon)
	}
	cb := CellBounds(campus, 4, model.Index{})
	if !(cb.MinLat < campus.MinLat && cb.MaxLat > campus.MinLat && cb.MaxLon-cb.MinLon > 0) {
		t.Fatalf("cell bounds %+v do not straddle origin", cb)
	}
}

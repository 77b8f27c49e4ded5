// Package bounds derives the lat/lon window a density grid spans, either from
// the records themselves or from a fixed configured extent.
package bounds

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

var (
	// ErrInsufficientData is returned when no record ever updated some bound.
	ErrInsufficientData = errors.New("insufficient data for bounds")
	// ErrDegenerateBounds is returned when the window has zero or negative extent.
	ErrDegenerateBounds = errors.New("degenerate bounds")
)

// running sentinels; any supported real-world coordinate replaces them
const (
	sentinelMax = -999.0
	sentinelMin = 999.0
)

// WestCampus is the visible extent of the West Campus reference map image
// (top-left 30.298507512984692,-97.7550797158131; bottom-right 30.280448469396532,-97.7242274875346).
var WestCampus = model.GeoBounds{
	MaxLat: 30.298507512984692,
	MaxLon: -97.7242274875346,
	MinLat: 30.280448469396532,
	MinLon: -97.7550797158131,
}

// Calculate scans coords once and returns the truncated min/max of each
// component. Components truncating to 0.0 are missing and skipped; latitude and
// longitude are tracked independently.
func Calculate(coords []model.Coordinate, d precision.Digits) (model.GeoBounds, error) {
	if err := precision.Validate(d); err != nil {
		return model.GeoBounds{}, err
	}
	b := model.GeoBounds{
		MaxLat: sentinelMax,
		MaxLon: sentinelMax,
		MinLat: sentinelMin,
		MinLon: sentinelMin,
	}
	for _, c := range coords {
		if !precision.IsSentinel(c.Lat, d) {
			lat := precision.Truncate(c.Lat, d)
			b.MaxLat = max(b.MaxLat, lat)
			b.MinLat = min(b.MinLat, lat)
		}
		if !precision.IsSentinel(c.Lon, d) {
			lon := precision.Truncate(c.Lon, d)
			b.MaxLon = max(b.MaxLon, lon)
			b.MinLon = min(b.MinLon, lon)
		}
	}

	var missing []string
	if b.MaxLat == sentinelMax {
		missing = append(missing, "max_lat")
	}
	if b.MaxLon == sentinelMax {
		missing = append(missing, "max_lon")
	}
	if b.MinLat == sentinelMin {
		missing = append(missing, "min_lat")
	}
	if b.MinLon == sentinelMin {
		missing = append(missing, "min_lon")
	}
	if len(missing) > 0 {
		return model.GeoBounds{}, fmt.Errorf("%w: no valid value for %s (%d records)",
			ErrInsufficientData, strings.Join(missing, ","), len(coords))
	}
	return truncateAll(b, d), nil
}

// Fixed normalises an externally supplied extent to d digits and validates it.
func Fixed(b model.GeoBounds, d precision.Digits) (model.GeoBounds, error) {
	if err := precision.Validate(d); err != nil {
		return model.GeoBounds{}, err
	}
	t := truncateAll(b, d)
	if err := Validate(t); err != nil {
		return model.GeoBounds{}, err
	}
	return t, nil
}

func Validate(b model.GeoBounds) error {
	if !(b.MaxLat > b.MinLat) {
		return fmt.Errorf("%w: max_lat %v must exceed min_lat %v", ErrDegenerateBounds, b.MaxLat, b.MinLat)
	}
	if !(b.MaxLon > b.MinLon) {
		return fmt.Errorf("%w: max_lon %v must exceed min_lon %v", ErrDegenerateBounds, b.MaxLon, b.MinLon)
	}
	return nil
}

func truncateAll(b model.GeoBounds, d precision.Digits) model.GeoBounds {
	return model.GeoBounds{
		MaxLat: precision.Truncate(b.MaxLat, d),
		MaxLon: precision.Truncate(b.MaxLon, d),
		MinLat: precision.Truncate(b.MinLat, d),
		MinLon: precision.Truncate(b.MinLon, d),
	}
}

// Mode selects between computed and fixed bounds.
type Mode struct {
	Auto  bool
	Fixed model.GeoBounds
	Name  string
}

// Auto computes bounds from the records of each run.
var Auto = Mode{Auto: true, Name: "auto"}

func (m Mode) String() string {
	if m.Auto {
		return "auto"
	}
	if m.Name != "" {
		return m.Name
	}
	return m.Fixed.String()
}

// ParseMode accepts "auto", "west-campus" or "minLat,minLon,maxLat,maxLon".
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		return Auto, nil
	case "west-campus":
		return Mode{Fixed: WestCampus, Name: "west-campus"}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Mode{}, fmt.Errorf("bounds must be auto, west-campus or minLat,minLon,maxLat,maxLon; got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Mode{}, fmt.Errorf("bounds value %d: %w", i, err)
		}
		vals[i] = v
	}
	b := model.GeoBounds{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if err := Validate(b); err != nil {
		return Mode{}, err
	}
	return Mode{Fixed: b}, nil
}

// Resolve returns the bounds for one run according to m.
func Resolve(m Mode, coords []model.Coordinate, d precision.Digits) (model.GeoBounds, error) {
	if m.Auto {
		b, err := Calculate(coords, d)
		if err != nil {
			return model.GeoBounds{}, err
		}
		// a single distinct value per axis leaves no extent to grid
		if err := Validate(b); err != nil {
			return model.GeoBounds{}, err
		}
		return b, nil
	}
	return Fixed(m.Fixed, d)
}

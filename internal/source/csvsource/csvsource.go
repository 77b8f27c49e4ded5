// Package csvsource reads coordinates from a CSV file with Latitude and
// Longitude columns.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
)

// accepted header names, compared case-insensitively
var (
	latHeaders = []string{"latitude", "lat"}
	lonHeaders = []string{"longitude", "lon", "lng"}
)

const checkEvery = 1024

// Report describes what Read saw besides the coordinates themselves.
type Report struct {
	Rows        int
	Substituted int // fields replaced by the 0.0 sentinel
}

type Source struct {
	path   string
	report Report
}

func New(path string) *Source { return &Source{path: path} }

func (s *Source) Name() string { return "csv:" + s.path }

// Report returns the counters of the last Load.
func (s *Source) Report() Report { return s.report }

func (s *Source) Load(ctx context.Context) ([]model.Coordinate, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	coords, rep, err := Read(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	s.report = rep
	return coords, nil
}

// Read parses a header row followed by data rows. Empty, NaN, infinite and
// unparseable coordinate fields become 0.0.
func Read(ctx context.Context, r io.Reader) ([]model.Coordinate, Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, Report{}, errors.New("empty csv: missing header row")
	}
	if err != nil {
		return nil, Report{}, fmt.Errorf("read header: %w", err)
	}
	latCol, lonCol := columnIndex(header, latHeaders), columnIndex(header, lonHeaders)
	if latCol < 0 || lonCol < 0 {
		return nil, Report{}, fmt.Errorf("csv header %q must contain Latitude and Longitude columns", strings.Join(header, ","))
	}

	var (
		out []model.Coordinate
		rep Report
	)
	for {
		if rep.Rows%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Report{}, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Report{}, fmt.Errorf("row %d: %w", rep.Rows+2, err)
		}
		rep.Rows++
		lat, ok := parseField(rec, latCol)
		if !ok {
			rep.Substituted++
		}
		lon, ok := parseField(rec, lonCol)
		if !ok {
			rep.Substituted++
		}
		out = append(out, model.Coordinate{Lat: lat, Lon: lon})
	}
	return out, rep, nil
}

func columnIndex(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

// parseField returns (0, false) when the field is absent or not a finite number.
func parseField(rec []string, i int) (float64, bool) {
	if i >= len(rec) {
		return 0, false
	}
	s := strings.TrimSpace(rec[i])
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

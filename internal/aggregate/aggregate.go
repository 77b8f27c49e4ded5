// Package aggregate runs one batch aggregation: bounds, grid shape, mapping
// and counting, optionally split across workers.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/geo-heatmap/internal/bounds"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
	"github.com/mohammed-shakir/geo-heatmap/internal/logger"
	"github.com/mohammed-shakir/geo-heatmap/internal/mapper/grid"
	"github.com/mohammed-shakir/geo-heatmap/internal/precision"
)

// Interface is what the HTTP server and CLI need from an engine.
type Interface interface {
	Run(ctx context.Context, coords []model.Coordinate) (*Result, error)
}

// Stats counts per-record outcomes of a run.
type Stats struct {
	Total            int `json:"total" yaml:"total"`
	Accepted         int `json:"accepted" yaml:"accepted"`
	RejectedSentinel int `json:"rejected_sentinel" yaml:"rejected_sentinel"`
	RejectedAbove    int `json:"rejected_above" yaml:"rejected_above"`
	RejectedBelow    int `json:"rejected_below" yaml:"rejected_below"`
}

func (s *Stats) record(o model.Outcome) {
	s.Total++
	switch o {
	case model.Accepted:
		s.Accepted++
	case model.RejectedSentinel:
		s.RejectedSentinel++
	case model.RejectedAboveBounds:
		s.RejectedAbove++
	case model.RejectedBelowBounds:
		s.RejectedBelow++
	}
}

func (s *Stats) add(o Stats) {
	s.Total += o.Total
	s.Accepted += o.Accepted
	s.RejectedSentinel += o.RejectedSentinel
	s.RejectedAbove += o.RejectedAbove
	s.RejectedBelow += o.RejectedBelow
}

// Result is the immutable output of one run.
type Result struct {
	Bounds      model.GeoBounds      `json:"bounds"`
	Shape       model.Shape          `json:"shape"`
	Digits      precision.Digits     `json:"digits"`
	Thresholds  intensity.Thresholds `json:"thresholds"`
	Grid        density.Snapshot     `json:"grid"`
	Stats       Stats                `json:"stats"`
	Tiers       intensity.Counts     `json:"tiers"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Summary is Result without the grid, for printing and events.
type Summary struct {
	Bounds      model.GeoBounds      `json:"bounds" yaml:"bounds"`
	Shape       model.Shape          `json:"shape" yaml:"shape"`
	Digits      precision.Digits     `json:"digits" yaml:"digits"`
	Thresholds  intensity.Thresholds `json:"thresholds" yaml:"thresholds"`
	Stats       Stats                `json:"stats" yaml:"stats"`
	Populated   int                  `json:"populated_cells" yaml:"populated_cells"`
	Tiers       map[string]int       `json:"tiers" yaml:"tiers"`
	GeneratedAt time.Time            `json:"generated_at" yaml:"generated_at"`
}

func (r *Result) Summary() Summary {
	return Summary{
		Bounds:      r.Bounds,
		Shape:       r.Shape,
		Digits:      r.Digits,
		Thresholds:  r.Thresholds,
		Stats:       r.Stats,
		Populated:   r.Grid.Populated(),
		Tiers:       tierNames(r.Tiers),
		GeneratedAt: r.GeneratedAt,
	}
}

func tierNames(c intensity.Counts) map[string]int {
	out := make(map[string]int, len(c))
	for t, n := range c {
		out[t.String()] = n
	}
	return out
}

type Options struct {
	Digits     precision.Digits
	Bounds     bounds.Mode
	Thresholds intensity.Thresholds
	// Workers > 1 splits the records into that many contiguous partitions.
	Workers int
	// MaxCells bounds the cells allocated per run, worker grids included.
	// Zero means density.DefaultMaxCells.
	MaxCells int
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type Engine struct {
	digits     precision.Digits
	mode       bounds.Mode
	classifier *intensity.Classifier
	workers    int
	maxCells   int
	clock      clockwork.Clock
	log        *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if err := precision.Validate(opts.Digits); err != nil {
		return nil, err
	}
	th := opts.Thresholds
	if th == (intensity.Thresholds{}) {
		th = intensity.DefaultThresholds
	}
	cls, err := intensity.NewClassifier(th)
	if err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	switch {
	case opts.Bounds == (bounds.Mode{}):
		opts.Bounds = bounds.Auto
	case !opts.Bounds.Auto:
		if _, err := bounds.Fixed(opts.Bounds.Fixed, opts.Digits); err != nil {
			return nil, fmt.Errorf("fixed bounds %s: %w", opts.Bounds, err)
		}
	}
	if opts.MaxCells < 0 || opts.MaxCells > density.MaxCells {
		return nil, fmt.Errorf("max cells must be 0..%d, got %d", density.MaxCells, opts.MaxCells)
	}
	return &Engine{
		digits:     opts.Digits,
		mode:       opts.Bounds,
		classifier: cls,
		workers:    opts.Workers,
		maxCells:   density.Budget(opts.MaxCells),
		clock:      opts.Clock,
		log:        opts.Logger.With("component", "aggregate"),
	}, nil
}

func (e *Engine) Classifier() *intensity.Classifier { return e.classifier }

func (e *Engine) Digits() precision.Digits { return e.digits }

// Mode is the bounds mode every run resolves against.
func (e *Engine) Mode() bounds.Mode { return e.mode }

// Run aggregates coords into a fresh grid. Structural errors abort the run and
// no partial result is returned.
func (e *Engine) Run(ctx context.Context, coords []model.Coordinate) (*Result, error) {
	start := e.clock.Now()
	res, err := e.run(ctx, coords)
	elapsed := e.clock.Since(start)
	if err != nil {
		observability.ObserveRun(errorClass(err), elapsed)
		return nil, err
	}
	res.GeneratedAt = start.UTC()

	observability.AddRecords(model.Accepted.String(), res.Stats.Accepted)
	observability.AddRecords(model.RejectedSentinel.String(), res.Stats.RejectedSentinel)
	observability.AddRecords(model.RejectedAboveBounds.String(), res.Stats.RejectedAbove)
	observability.AddRecords(model.RejectedBelowBounds.String(), res.Stats.RejectedBelow)
	observability.ObserveRun("ok", elapsed)
	observability.SetGrid(res.Grid.Populated(), tierNames(res.Tiers))

	e.log.InfoContext(ctx, "aggregation complete",
		"bounds", res.Bounds.String(),
		"shape", res.Shape.String(),
		"records", res.Stats.Total,
		"accepted", res.Stats.Accepted,
		"rejected_sentinel", res.Stats.RejectedSentinel,
		"rejected_above", res.Stats.RejectedAbove,
		"rejected_below", res.Stats.RejectedBelow,
		"populated", res.Grid.Populated(),
		"workers", e.workers,
		"elapsed", elapsed,
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, coords []model.Coordinate) (*Result, error) {
	b, err := bounds.Resolve(e.mode, coords, e.digits)
	if err != nil {
		return nil, fmt.Errorf("resolve bounds (%s): %w", e.mode, err)
	}
	m, err := grid.NewWithin(b, e.digits, e.maxCells)
	if err != nil {
		return nil, fmt.Errorf("shape grid: %w", err)
	}
	workers := e.workersFor(m.Shape())
	e.log.DebugContext(ctx, "grid shaped", "bounds", b.String(), "shape", m.Shape().String(), "workers", workers)

	g, stats, err := aggregate(ctx, m, coords, workers)
	if err != nil {
		return nil, err
	}
	snap := g.Snapshot()
	if snap.Total() != uint64(stats.Accepted) {
		return nil, fmt.Errorf("grid total %d does not match accepted records %d", snap.Total(), stats.Accepted)
	}
	return &Result{
		Bounds:     b,
		Shape:      m.Shape(),
		Digits:     e.digits,
		Thresholds: e.classifier.Thresholds(),
		Grid:       snap,
		Stats:      stats,
		Tiers:      e.classifier.Tally(snap),
	}, nil
}

// workersFor caps the worker count so the per-worker grids plus the merged
// grid stay within the cell budget. The shape itself already fits.
func (e *Engine) workersFor(shape model.Shape) int {
	if e.workers <= 1 {
		return 1
	}
	fit := e.maxCells/shape.Cells() - 1
	return max(1, min(e.workers, fit))
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, bounds.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, bounds.ErrDegenerateBounds):
		return "degenerate_bounds"
	case errors.Is(err, density.ErrGridTooLarge):
		return "grid_too_large"
	case errors.Is(err, density.ErrIndexOutOfRange):
		return "index_out_of_range"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

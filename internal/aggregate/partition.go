package aggregate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/mapper"
)

// context is polled once per this many records
const checkEvery = 4096

// aggregate maps coords onto m's grid. With workers > 1 each contiguous
// partition fills its own grid and the parts are summed; the result equals a
// single sequential pass.
func aggregate(ctx context.Context, m mapper.Interface, coords []model.Coordinate, workers int) (*density.Grid, Stats, error) {
	parts := partitions(len(coords), workers)
	if len(parts) <= 1 {
		return mapPartition(ctx, m, coords)
	}

	grids := make([]*density.Grid, len(parts))
	stats := make([]Stats, len(parts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range parts {
		eg.Go(func() error {
			g, s, err := mapPartition(egCtx, m, coords[p[0]:p[1]])
			if err != nil {
				return fmt.Errorf("partition %d [%d:%d]: %w", i, p[0], p[1], err)
			}
			grids[i], stats[i] = g, s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, Stats{}, err
	}

	out, err := density.New(m.Shape())
	if err != nil {
		return nil, Stats{}, err
	}
	if err := density.Merge(out, grids...); err != nil {
		return nil, Stats{}, err
	}
	var total Stats
	for _, s := range stats {
		total.add(s)
	}
	return out, total, nil
}

func mapPartition(ctx context.Context, m mapper.Interface, coords []model.Coordinate) (*density.Grid, Stats, error) {
	g, err := density.New(m.Shape())
	if err != nil {
		return nil, Stats{}, err
	}
	var s Stats
	for i, c := range coords {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, Stats{}, err
			}
		}
		idx, out, err := m.Map(c)
		if err != nil {
			return nil, Stats{}, err
		}
		s.record(out)
		if out != model.Accepted {
			continue
		}
		if err := g.Increment(idx); err != nil {
			return nil, Stats{}, err
		}
	}
	return g, s, nil
}

// partitions splits n items into at most workers contiguous [start,end) ranges.
func partitions(n, workers int) [][2]int {
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	out := make([][2]int, 0, workers)
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// Package heatmap ties a record source to the aggregation engine and the
// result caches. Lookups go memo, then grid store, then a fresh run.
package heatmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/gridstore"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/keys"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/memo"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/model"
	obs "github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	"github.com/mohammed-shakir/geo-heatmap/internal/logger"
	"github.com/mohammed-shakir/geo-heatmap/internal/runevents"
	"github.com/mohammed-shakir/geo-heatmap/internal/source"
)

// Where a result came from; also the cache_results_total label.
const (
	OutcomeMemo  = "memo_hit"
	OutcomeRedis = "redis_hit"
	OutcomeMiss  = "miss"
)

type Options struct {
	Dataset string
	Source  source.Interface
	Engine  *aggregate.Engine
	// Memo and Store are optional.
	Memo   *memo.Cache
	Store  gridstore.Store
	TTL    time.Duration
	Events runevents.Publisher
	Logger *slog.Logger
	// RunTimeout bounds one shared computation; zero means DefaultRunTimeout.
	RunTimeout time.Duration
}

// DefaultRunTimeout bounds a shared computation once no caller's context does.
const DefaultRunTimeout = 2 * time.Minute

type Service struct {
	dataset string
	src     source.Interface
	engine  *aggregate.Engine
	memo    *memo.Cache
	store   gridstore.Store
	ttl     time.Duration
	events  runevents.Publisher
	log     *slog.Logger
	group   singleflight.Group
	timeout time.Duration

	mu     sync.RWMutex
	coords []model.Coordinate
	key    string
	loaded bool
}

func New(opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, errors.New("heatmap: nil source")
	}
	if opts.Engine == nil {
		return nil, errors.New("heatmap: nil engine")
	}
	if opts.Events == nil {
		opts.Events = runevents.Nop
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	return &Service{
		dataset: opts.Dataset,
		src:     opts.Source,
		engine:  opts.Engine,
		memo:    opts.Memo,
		store:   opts.Store,
		ttl:     opts.TTL,
		events:  opts.Events,
		log:     opts.Logger.With("component", "heatmap"),
		timeout: opts.RunTimeout,
	}, nil
}

func (s *Service) Engine() *aggregate.Engine { return s.engine }

func (s *Service) Dataset() string { return s.dataset }

// Load reads the records once. Later calls are no-ops until Reload.
func (s *Service) Load(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	return s.loadLocked(ctx)
}

// Reload re-reads the source and drops results cached for the previous records.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.key, s.loaded
	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	if !had || prev == s.key {
		return nil
	}
	s.memo.Remove(prev)
	if s.store != nil {
		if err := s.store.Invalidate(ctx, prev); err != nil {
			s.log.WarnContext(ctx, "grid store invalidate failed", "key", prev, "err", err)
		}
	}
	return nil
}

func (s *Service) loadLocked(ctx context.Context) error {
	coords, err := s.src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.src.Name(), err)
	}
	fp := keys.Fingerprint(coords)
	s.coords = coords
	s.key = keys.GridKey(s.dataset, fp, keys.Params{
		Digits:     s.engine.Digits(),
		Bounds:     s.engine.Mode().String(),
		Thresholds: s.engine.Classifier().Thresholds().String(),
	})
	s.loaded = true
	s.log.InfoContext(ctx, "records loaded",
		"source", s.src.Name(),
		"records", len(coords),
		"fingerprint", fmt.Sprintf("%016x", fp),
	)
	return nil
}

// Forget drops every in-process result; the next Result reads through to the
// grid store or recomputes.
func (s *Service) Forget() {
	s.memo.Purge()
}

// Key is the cache key of the loaded records, or "" before Load.
func (s *Service) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Result returns the aggregation of the loaded records and where it came from.
// Concurrent callers for the same key share one computation. The computation
// is detached from the caller that started it, so a cancelled caller returns
// early without failing the others.
func (s *Service) Result(ctx context.Context) (*aggregate.Result, string, error) {
	if err := s.Load(ctx); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	coords, key := s.coords, s.key
	s.mu.RUnlock()

	if res, ok := s.memo.Get(key); ok {
		obs.IncCacheResult(OutcomeMemo)
		return res, OutcomeMemo, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.compute(runCtx, key, coords)
	})
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, "", r.Err
		}
		c := r.Val.(computed)
		return c.res, c.outcome, nil
	}
}

type computed struct {
	res     *aggregate.Result
	outcome string
}

func (s *Service) compute(ctx context.Context, key string, coords []model.Coordinate) (computed, error) {
	// a previous flight may have finished between the memo check and Do
	if res, ok := s.memo.Get(key); ok {
		obs.IncCacheResult(OutcomeMemo)
		return computed{res: res, outcome: OutcomeMemo}, nil
	}
	if s.store != nil {
		res, ok, err := s.store.Get(ctx, key)
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "grid store read failed", "key", key, "err", err)
		case ok:
			s.memo.Add(key, res)
			obs.IncCacheResult(OutcomeRedis)
			return computed{res: res, outcome: OutcomeRedis}, nil
		}
	}

	ctx = logger.WithRunID(ctx, "")
	res, err := s.engine.Run(ctx, coords)
	if err != nil {
		return computed{}, fmt.Errorf("aggregate %s: %w", s.src.Name(), err)
	}
	obs.IncCacheResult(OutcomeMiss)
	s.memo.Add(key, res)

	if s.store != nil {
		if err := s.store.Put(ctx, key, res, s.ttl); err != nil {
			s.log.WarnContext(ctx, "grid store write failed", "key", key, "err", err)
		}
	}
	s.events.Publish(runevents.RunSummary{
		RunID:   logger.RunID(ctx),
		Dataset: s.dataset,
		Source:  s.src.Name(),
		Summary: res.Summary(),
		TS:      res.GeneratedAt,
	})
	return computed{res: res, outcome: OutcomeMiss}, nil
}

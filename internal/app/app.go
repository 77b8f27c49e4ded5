// Package app assembles the heatmap service and its collaborators from
// configuration. Commands build one App and Close it on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/gridstore"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/memo"
	"github.com/mohammed-shakir/geo-heatmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/config"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/health"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/router"
	"github.com/mohammed-shakir/geo-heatmap/internal/heatmap"
	"github.com/mohammed-shakir/geo-heatmap/internal/invalidation"
	"github.com/mohammed-shakir/geo-heatmap/internal/metrics"
	"github.com/mohammed-shakir/geo-heatmap/internal/render"
	"github.com/mohammed-shakir/geo-heatmap/internal/runevents"
	"github.com/mohammed-shakir/geo-heatmap/internal/source"
	"github.com/mohammed-shakir/geo-heatmap/internal/source/csvsource"
	"github.com/mohammed-shakir/geo-heatmap/internal/source/kafkasource"
)

const eventQueueSize = 256

type App struct {
	Config  config.Config
	Log     *slog.Logger
	Metrics *metrics.Provider
	Service *heatmap.Service
	// Invalidator is nil unless invalidation is enabled.
	Invalidator *invalidation.Consumer

	redis   *redisstore.Client
	closers []func() error
}

// New validates cfg and connects every enabled collaborator. On error the
// already opened ones are closed.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, build metrics.BuildInfo) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	observability.SetDataset(cfg.Dataset)
	if a.Metrics, err = metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    cfg.MetricsPath,
		Build:   build,
	}); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	engine, err := newEngine(cfg, log)
	if err != nil {
		return nil, err
	}
	src, err := a.newSource(cfg, log)
	if err != nil {
		return nil, err
	}

	var store gridstore.Store
	if cfg.Cache.Enabled {
		cli, err := redisstore.New(ctx, cfg.Cache.RedisAddr, redisstore.WithOpTimeout(cfg.Cache.OpTimeout))
		if err != nil {
			return nil, fmt.Errorf("redis client: %w", err)
		}
		a.redis = cli
		a.closers = append(a.closers, cli.Close)
		store = gridstore.New(cli, cfg.Cache.TTL)
	}

	events := runevents.Nop
	if cfg.Kafka.EventsEnabled {
		pub, err := runevents.NewKafka(cfg.KafkaBrokerList(), cfg.Kafka.EventsTopic, eventQueueSize, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		events = pub
	}

	a.Service, err = heatmap.New(heatmap.Options{
		Dataset: cfg.Dataset,
		Source:  src,
		Engine:  engine,
		Memo:    memo.New(cfg.Cache.MemoSize),
		Store:   store,
		TTL:     cfg.Cache.TTL,
		Events:  events,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Kafka.InvalidateEnabled {
		var purger invalidation.Purger
		if a.redis != nil {
			purger = a.redis
		}
		a.Invalidator = invalidation.New(invalidation.Config{
			Brokers: cfg.KafkaBrokerList(),
			Topic:   cfg.Kafka.InvalidateTopic,
			GroupID: cfg.Kafka.GroupID,
		}, log, a.Service, purger)
	}
	return a, nil
}

func newEngine(cfg config.Config, log *slog.Logger) (*aggregate.Engine, error) {
	mode, err := cfg.BoundsMode()
	if err != nil {
		return nil, err
	}
	th, err := cfg.ThresholdValues()
	if err != nil {
		return nil, err
	}
	return aggregate.New(aggregate.Options{
		Digits:     cfg.Digits(),
		Bounds:     mode,
		Thresholds: th,
		Workers:    cfg.Workers,
		MaxCells:   cfg.MaxCells,
		Logger:     log,
	})
}

func (a *App) newSource(cfg config.Config, log *slog.Logger) (source.Interface, error) {
	switch cfg.Source {
	case config.SourceKafka:
		kc := kafkasource.Config{
			Brokers:      cfg.KafkaBrokerList(),
			Topic:        cfg.Kafka.RecordsTopic,
			DrainTimeout: cfg.Kafka.DrainTimeout,
		}
		cluster, err := kafkasource.Dial(kc)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cluster.Close)
		return kafkasource.New(kc, cluster, log), nil
	default:
		if cfg.Input == "" {
			return nil, errors.New("csv source needs an input path (--input or HEATMAP_INPUT)")
		}
		return csvsource.New(cfg.Input), nil
	}
}

// Checks are the readiness probes: records loaded, plus Redis and the
// invalidation consumer when enabled.
func (a *App) Checks() []health.Check {
	checks := []health.Check{{
		Name: "records",
		Fn: func(context.Context) error {
			if a.Service.Key() == "" {
				return errors.New("records not loaded")
			}
			return nil
		},
	}}
	if a.redis != nil {
		checks = append(checks, health.Check{Name: "redis", Fn: a.redis.Ping})
	}
	if a.Invalidator != nil {
		checks = append(checks, a.Invalidator.Check())
	}
	return checks
}

// BaseImage decodes the configured reference map, or returns nil when none is set.
func (a *App) BaseImage() (image.Image, error) {
	path := a.Config.Render.BaseImage
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open base image: %w", err)
	}
	defer func() { _ = f.Close() }()
	return render.DecodeBase(f)
}

// Handler builds the HTTP API over the App's service.
func (a *App) Handler(base image.Image) http.Handler {
	return router.New(router.Deps{
		Results: a.Service,
		Metrics: a.Metrics,
		Checks:  a.Checks(),
		Logger:  a.Log,
		H3Res:   a.Config.H3Res,
		Base:    base,
		Width:   a.Config.Render.Width,
		Height:  a.Config.Render.Height,
	})
}

// Close releases collaborators in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

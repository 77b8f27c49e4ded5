// Package cli implements the heatmap command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geo-heatmap/internal/app"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/config"
	"github.com/mohammed-shakir/geo-heatmap/internal/logger"
	"github.com/mohammed-shakir/geo-heatmap/internal/metrics"
)

type Dependencies struct {
	Build metrics.BuildInfo
}

// globalOptions are the persistent flags; each one overrides the config value
// only when set on the command line.
type globalOptions struct {
	configPath string
	dataset    string
	source     string
	input      string
	precision  int
	bounds     string
	thresholds string
	workers    int
	maxCells   int
	logLevel   string
}

func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "heatmap",
		Short:         "Aggregate geo events into a density grid and render it as a heatmap.",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file (default $HEATMAP_CONFIG)")
	pf.StringVar(&opts.dataset, "dataset", "", "dataset name used in cache keys and metrics")
	pf.StringVar(&opts.source, "source", "", "record source: csv or kafka")
	pf.StringVarP(&opts.input, "input", "i", "", "CSV file with Latitude and Longitude columns")
	pf.IntVar(&opts.precision, "precision", 0, "decimal digits kept; one cell spans 10^-precision degrees")
	pf.StringVar(&opts.bounds, "bounds", "", "auto, west-campus or minLat,minLon,maxLat,maxLon")
	pf.StringVar(&opts.thresholds, "thresholds", "", "low,medium,high tier thresholds")
	pf.IntVar(&opts.workers, "workers", 0, "parallel aggregation partitions")
	pf.IntVar(&opts.maxCells, "max-cells", 0, "cell budget per run; larger grids are rejected")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newGridCommand(deps, opts))
	root.AddCommand(newRenderCommand(deps, opts))
	root.AddCommand(newGeoJSONCommand(deps, opts))
	root.AddCommand(newServeCommand(deps, opts))
	root.AddCommand(newVersionCommand(deps))
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, deps Dependencies, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(deps)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if msg := err.Error(); msg != "" {
			_, _ = fmt.Fprintln(stderr, "error:", msg)
		}
		return 1
	}
	return 0
}

// loadConfig resolves file and environment settings, then applies the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv("HEATMAP_CONFIG")
	}
	cfg, err := config.Resolve(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("dataset") {
		cfg.Dataset = opts.dataset
	}
	if flags.Changed("source") {
		cfg.Source = opts.source
	}
	if flags.Changed("input") {
		cfg.Input = opts.input
	}
	if flags.Changed("precision") {
		cfg.Precision = opts.precision
	}
	if flags.Changed("bounds") {
		cfg.Bounds = opts.bounds
	}
	if flags.Changed("thresholds") {
		cfg.Thresholds = opts.thresholds
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("max-cells") {
		cfg.MaxCells = opts.maxCells
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, cfg.Validate()
}

// buildApp loads config, builds the zerolog-backed logger on stderr and
// connects the App. component names the command in log lines.
func buildApp(cmd *cobra.Command, opts *globalOptions, deps Dependencies, component string, mutate func(*config.Config)) (*app.App, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Dataset:   cfg.Dataset,
		Component: component,
	}, cmd.ErrOrStderr())
	log := logger.NewSlog(&zl)

	a, err := app.New(cmd.Context(), cfg, log, deps.Build)
	if err != nil {
		return nil, err
	}
	return a, nil
}

var errNoOutput = errors.New("--out is required")

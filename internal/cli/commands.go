package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/config"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/server"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/export/geojson"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
	"github.com/mohammed-shakir/geo-heatmap/internal/render"
)

type gridOutput struct {
	Source  string            `json:"source" yaml:"source"`
	Cache   string            `json:"cache" yaml:"cache"`
	Summary aggregate.Summary `json:"summary" yaml:"summary"`
	Cells   []density.Cell    `json:"cells,omitempty" yaml:"cells,omitempty"`
}

func newGridCommand(deps Dependencies, opts *globalOptions) *cobra.Command {
	var (
		format string
		cells  bool
	)
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Aggregate the records and print the grid summary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (want json or yaml)", format)
			}
			a, err := buildApp(cmd, opts, deps, "grid", nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, outcome, err := a.Service.Result(cmd.Context())
			if err != nil {
				return err
			}
			out := gridOutput{Source: a.Config.Source, Cache: outcome, Summary: res.Summary()}
			if cells {
				out.Cells = res.Grid.Cells()
			}
			return writeFormatted(cmd.OutOrStdout(), format, out)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&cells, "cells", false, "include every populated cell")
	return cmd
}

func writeFormatted(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return nil
}

func newRenderCommand(deps Dependencies, opts *globalOptions) *cobra.Command {
	var (
		out           string
		base          string
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Draw tiered markers for populated cells over a reference map and write a PNG.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errNoOutput
			}
			a, err := buildApp(cmd, opts, deps, "render", func(c *config.Config) {
				if cmd.Flags().Changed("base") {
					c.Render.BaseImage = base
				}
				if cmd.Flags().Changed("width") {
					c.Render.Width = width
				}
				if cmd.Flags().Changed("height") {
					c.Render.Height = height
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			img, err := a.BaseImage()
			if err != nil {
				return err
			}
			w, h := a.Config.Render.Width, a.Config.Render.Height
			if img != nil {
				w, h = img.Bounds().Dx(), img.Bounds().Dy()
			} else {
				img = render.NewCanvas(nil, w, h)
			}

			res, _, err := a.Service.Result(cmd.Context())
			if err != nil {
				return err
			}
			markers, err := render.Plan(res.Grid, w, h, a.Service.Engine().Classifier())
			if err != nil {
				return err
			}
			if err := writeFile(out, func(f io.Writer) error {
				return render.WritePNG(f, render.Overlay(img, markers))
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d markers on %dx%d to %s\n", len(markers), w, h, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "PNG file to write")
	cmd.Flags().StringVar(&base, "base", "", "PNG or JPEG reference map drawn under the markers")
	cmd.Flags().IntVar(&width, "width", render.DefaultWidth, "canvas width when no base image is given")
	cmd.Flags().IntVar(&height, "height", render.DefaultHeight, "canvas height when no base image is given")
	return cmd
}

func newGeoJSONCommand(deps Dependencies, opts *globalOptions) *cobra.Command {
	var (
		out         string
		minTier     string
		sortByCount bool
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "geojson",
		Short: "Export populated cells as a GeoJSON FeatureCollection.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gopts := geojson.Options{SortByCount: sortByCount, Limit: limit}
			if minTier != "" {
				t, err := intensity.ParseTier(minTier)
				if err != nil {
					return err
				}
				gopts.MinTier = t
			}
			a, err := buildApp(cmd, opts, deps, "geojson", nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, _, err := a.Service.Result(cmd.Context())
			if err != nil {
				return err
			}
			cls := a.Service.Engine().Classifier()
			if out == "" || out == "-" {
				return geojson.Write(cmd.OutOrStdout(), res, cls, gopts)
			}
			return writeFile(out, func(f io.Writer) error {
				return geojson.Write(f, res, cls, gopts)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "file to write, - for stdout")
	cmd.Flags().StringVar(&minTier, "min-tier", "", "skip cells below this tier: low, medium or high")
	cmd.Flags().BoolVar(&sortByCount, "sort-count", false, "order features by count, highest first")
	cmd.Flags().IntVar(&limit, "limit", 0, "keep at most this many features (0 keeps all)")
	return cmd
}

func newServeCommand(deps Dependencies, opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the grid, GeoJSON, H3 rollup and rendered PNG over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd, opts, deps, "server", func(c *config.Config) {
				if cmd.Flags().Changed("addr") {
					c.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			base, err := a.BaseImage()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.Service.Load(ctx); err != nil {
				return err
			}
			a.Log.Info("starting heatmap server",
				"addr", a.Config.Addr,
				"version", deps.Build.Version,
				"dataset", a.Config.Dataset,
				"metrics", a.Metrics.Enabled(),
				"invalidation", a.Invalidator != nil,
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx, a.Config.Addr, a.Log, a.Handler(base))
			})
			if a.Invalidator != nil {
				g.Go(func() error { return a.Invalidator.Start(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $HEATMAP_ADDR or :8090)")
	return cmd
}

func newVersionCommand(deps Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := deps.Build.Version
			if v == "" {
				v = "dev"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "heatmap %s", v)
			if deps.Build.Revision != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), " (%s)", deps.Build.Revision)
			}
			if deps.Build.BuildDate != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), " built %s", deps.Build.BuildDate)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout())
		},
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

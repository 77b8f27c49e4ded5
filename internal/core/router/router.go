// Package router wires the heatmap HTTP API onto a chi router.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
	"github.com/mohammed-shakir/geo-heatmap/internal/bounds"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/health"
	"github.com/mohammed-shakir/geo-heatmap/internal/core/middleware"
	"github.com/mohammed-shakir/geo-heatmap/internal/density"
	"github.com/mohammed-shakir/geo-heatmap/internal/export/geojson"
	"github.com/mohammed-shakir/geo-heatmap/internal/intensity"
	"github.com/mohammed-shakir/geo-heatmap/internal/logger"
	h3mapper "github.com/mohammed-shakir/geo-heatmap/internal/mapper/h3"
	"github.com/mohammed-shakir/geo-heatmap/internal/metrics"
	"github.com/mohammed-shakir/geo-heatmap/internal/render"
)

// Results is what the handlers need from the heatmap service.
type Results interface {
	Result(ctx context.Context) (*aggregate.Result, string, error)
	Reload(ctx context.Context) error
	Engine() *aggregate.Engine
}

type Deps struct {
	Results Results
	Metrics *metrics.Provider
	Checks  []health.Check
	Logger  *slog.Logger
	// H3Res is the default /hex resolution.
	H3Res int
	// Base is drawn under /render.png markers; nil means a blank Width x Height canvas.
	Base          image.Image
	Width, Height int
}

// CacheHeader reports where a /grid result came from.
const CacheHeader = "X-Heatmap-Cache"

func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Checks...))
	r.Handle(d.Metrics.Path(), d.Metrics.Handler())

	h := &handlers{Deps: d}
	r.Get("/grid", h.grid)
	r.Get("/grid.geojson", h.geojson)
	r.Get("/hex", h.hex)
	r.Get("/render.png", h.render)
	r.Post("/reload", h.reload)
	return r
}

type handlers struct {
	Deps
}

type gridResponse struct {
	Summary aggregate.Summary `json:"summary"`
	Cells   any               `json:"grid,omitempty"`
}

func (h *handlers) grid(w http.ResponseWriter, r *http.Request) {
	withCells, err := parseBool(r.URL.Query().Get("cells"))
	if err != nil {
		http.Error(w, "invalid cells: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	out := gridResponse{Summary: res.Summary()}
	if withCells {
		out.Cells = res.Grid
	}
	writeJSON(w, "application/json", out)
}

// GeoJSONQuery holds the optional /grid.geojson filters.
type GeoJSONQuery struct {
	Options geojson.Options
}

// ParseGeoJSONQuery reads min_tier, sort=count and limit.
func ParseGeoJSONQuery(r *http.Request) (GeoJSONQuery, error) {
	var q GeoJSONQuery
	v := r.URL.Query()
	if s := strings.TrimSpace(v.Get("min_tier")); s != "" {
		t, err := intensity.ParseTier(s)
		if err != nil {
			return q, fmt.Errorf("invalid min_tier: %w", err)
		}
		q.Options.MinTier = t
	}
	switch s := strings.ToLower(strings.TrimSpace(v.Get("sort"))); s {
	case "":
	case "count":
		q.Options.SortByCount = true
	default:
		return q, fmt.Errorf("invalid sort %q (want count)", s)
	}
	if s := strings.TrimSpace(v.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Options.Limit = n
	}
	return q, nil
}

func (h *handlers) geojson(w http.ResponseWriter, r *http.Request) {
	q, err := ParseGeoJSONQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	fc, err := geojson.Build(res, h.Results.Engine().Classifier(), q.Options)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, "application/geo+json", fc)
}

func (h *handlers) hex(w http.ResponseWriter, r *http.Request) {
	res3, err := h3mapper.ParseRes(r.URL.Query().Get("res"), h.H3Res)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	parent := -1
	if s := strings.TrimSpace(r.URL.Query().Get("parent")); s != "" {
		if parent, err = h3mapper.ParseRes(s, 0); err != nil {
			http.Error(w, "parent: "+err.Error(), http.StatusBadRequest)
			return
		}
		if parent > res3 {
			http.Error(w, "parent must not exceed res", http.StatusBadRequest)
			return
		}
	}

	res, ok := h.result(w, r)
	if !ok {
		return
	}
	hexes, err := h3mapper.Rollup(res.Grid, res.Bounds, res.Digits, res3)
	if err == nil && parent >= 0 {
		hexes, err = h3mapper.ToParent(hexes, parent)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, "application/json", hexes)
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}
	width, height := h.Width, h.Height
	if h.Base != nil {
		width, height = h.Base.Bounds().Dx(), h.Base.Bounds().Dy()
	}
	if width <= 0 || height <= 0 {
		width, height = render.DefaultWidth, render.DefaultHeight
	}
	markers, err := render.Plan(res.Grid, width, height, h.Results.Engine().Classifier())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	base := h.Base
	if base == nil {
		base = render.NewCanvas(nil, width, height)
	}
	w.Header().Set("Content-Type", "image/png")
	if err := render.WritePNG(w, render.Overlay(base, markers)); err != nil {
		h.Logger.ErrorContext(r.Context(), "write png", "err", err)
	}
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.Results.Reload(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// result fetches the current aggregation, writing the error response itself
// when it fails.
func (h *handlers) result(w http.ResponseWriter, r *http.Request) (*aggregate.Result, bool) {
	res, outcome, err := h.Results.Result(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	w.Header().Set(CacheHeader, outcome)
	return res, true
}

// fail maps data errors to 422 and everything else to 500.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, bounds.ErrInsufficientData) || errors.Is(err, bounds.ErrDegenerateBounds) ||
		errors.Is(err, density.ErrGridTooLarge) {
		code = http.StatusUnprocessableEntity
	}
	h.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "err", err)
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	_ = json.NewEncoder(w).Encode(v)
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("parse bool: %w", err)
	}
	return b, nil
}

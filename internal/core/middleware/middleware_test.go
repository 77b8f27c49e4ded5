package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	obs "github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
	mylog "github.com/mohammed-shakir/geo-heatmap/internal/logger"
)

func TestLogging_SetsRequestIDAndContext(t *testing.T) {
	var seen string
	h := Logging(mylog.Discard())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = mylog.RunID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/grid", nil))
	got := rr.Header().Get(RequestIDHeader)
	if got == "" || got != seen {
		t.Fatalf("header=%q context=%q", got, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/grid", nil)
	req.Header.Set(RequestIDHeader, "abc123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc123" || rr.Header().Get(RequestIDHeader) != "abc123" {
		t.Fatalf("client id not propagated: %q", seen)
	}
}

func TestRecover_Returns500(t *testing.T) {
	h := Recover(mylog.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/grid", nil))
	if rr.Code != http.StatusNoContent || called {
		t.Fatalf("preflight: status=%d called=%v", rr.Code, called)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin")
	}
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := obs.Init(reg, true); err != nil {
		t.Fatalf("Init: %v", err)
	}

	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/hex/{res}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	for _, p := range []string{"/hex/7", "/hex/9"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var count float64
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/hex/{res}" && labels["status"] == "418" {
				count += m.GetCounter().GetValue()
			}
		}
	}
	if count != 2 {
		t.Fatalf("count=%v want 2 for the route pattern", count)
	}
}

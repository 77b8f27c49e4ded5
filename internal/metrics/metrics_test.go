package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/geo-heatmap/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, p.Path(), nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	return rr.Code, rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p, err := Init(Config{Enabled: true, Build: BuildInfo{Version: "test", Revision: "r", BuildDate: "now"}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	code, body := scrape(t, p)
	if code != http.StatusOK {
		t.Fatalf("status=%d want 200", code)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `app_build_info{build_date="now",revision="r",version="test"} 1`) {
		t.Fatalf("expected app_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_ExportsHeatmapMetrics(t *testing.T) {
	p, err := Init(Config{Enabled: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	observability.AddRecords("rejected_sentinel", 2)
	observability.ObserveRun("ok", 5*time.Millisecond)
	observability.SetGrid(4, map[string]int{"low": 4})

	_, body := scrape(t, p)
	for _, want := range []string{
		`heatmap_records_total{dataset="default",outcome="rejected_sentinel"}`,
		`heatmap_run_duration_seconds_bucket`,
		`heatmap_cells_by_tier{tier="low"} 4`,
		`heatmap_populated_cells 4`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
	if p.Path() != DefaultPath {
		t.Fatalf("path=%q", p.Path())
	}
}

func TestProvider_Disabled(t *testing.T) {
	p, err := Init(Config{Enabled: false, Path: "/m"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if code, _ := scrape(t, p); code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", code)
	}
	var nilp *Provider
	if nilp.Enabled() || nilp.Path() != DefaultPath {
		t.Fatalf("nil provider must be disabled")
	}
}

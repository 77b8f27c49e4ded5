package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geo-heatmap/internal/export/geojson"
	"github.com/mohammed-shakir/geo-heatmap/internal/metrics"
)

const campusCSV = `Latitude,Longitude
30.29,-97.74
30.29,-97.74
30.285,-97.73
NaN,-97.74
30.31,-97.70
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.csv")
	if err := os.WriteFile(path, []byte(campusCSV), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, Dependencies{Build: metrics.BuildInfo{Version: "test"}}, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestGrid_JSONSummary(t *testing.T) {
	code, out, errOut := run(t, "grid", "--input", writeCSV(t), "--bounds", "west-campus", "--cells", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errOut)
	}
	var got struct {
		Cache   string `json:"cache"`
		Summary struct {
			Shape struct {
				Rows int `json:"rows"`
				Cols int `json:"cols"`
			} `json:"shape"`
			Stats struct {
				Total            int `json:"total"`
				Accepted         int `json:"accepted"`
				RejectedSentinel int `json:"rejected_sentinel"`
				RejectedAbove    int `json:"rejected_above"`
			} `json:"stats"`
		} `json:"summary"`
		Cells []struct {
			Row, Col int
			Count    uint64
		} `json:"cells"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Summary.Shape.Rows != 181 || got.Summary.Shape.Cols != 308 {
		t.Fatalf("shape=%+v", got.Summary.Shape)
	}
	s := got.Summary.Stats
	if s.Total != 5 || s.Accepted != 3 || s.RejectedSentinel != 1 || s.RejectedAbove != 1 {
		t.Fatalf("stats=%+v", s)
	}
	if got.Cache != "miss" || len(got.Cells) != 2 {
		t.Fatalf("cache=%q cells=%d", got.Cache, len(got.Cells))
	}
}

func TestGrid_YAML(t *testing.T) {
	code, out, errOut := run(t, "grid", "-i", writeCSV(t), "--bounds", "west-campus", "-f", "yaml", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errOut)
	}
	var got map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if got["source"] != "csv" {
		t.Fatalf("source=%v", got["source"])
	}
	if !strings.Contains(out, "populated_cells: 2") {
		t.Fatalf("yaml output:\n%s", out)
	}
}

func TestGrid_Errors(t *testing.T) {
	if code, _, errOut := run(t, "grid", "-i", writeCSV(t), "-f", "xml"); code != 1 || !strings.Contains(errOut, "unsupported format") {
		t.Fatalf("format: exit=%d stderr=%s", code, errOut)
	}
	if code, _, errOut := run(t, "grid", "-i", writeCSV(t), "--thresholds", "5,1,10"); code != 1 || !strings.Contains(errOut, "thresholds") {
		t.Fatalf("thresholds: exit=%d stderr=%s", code, errOut)
	}
	if code, _, _ := run(t, "grid", "-i", filepath.Join(t.TempDir(), "missing.csv"), "--log-level", "error"); code != 1 {
		t.Fatalf("missing input: exit=%d", code)
	}
}

func TestRender_WritesPNG(t *testing.T) {
	out := filepath.Join(t.TempDir(), "heatmap.png")
	code, stdout, errOut := run(t, "render", "-i", writeCSV(t), "--bounds", "west-campus", "-o", out, "--width", "309", "--height", "181", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(stdout, "wrote 2 markers") {
		t.Fatalf("stdout=%q", stdout)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 309 || img.Bounds().Dy() != 181 {
		t.Fatalf("size=%v", img.Bounds())
	}

	if code, _, _ := run(t, "render", "-i", writeCSV(t)); code != 1 {
		t.Fatalf("missing --out: exit=%d", code)
	}
}

func TestGeoJSON_Stdout(t *testing.T) {
	code, out, errOut := run(t, "geojson", "-i", writeCSV(t), "--bounds", "west-campus", "--sort-count", "--limit", "1", "--log-level", "error")
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, errOut)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal([]byte(out), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 1 || fc.Features[0].Properties.Count != 2 {
		t.Fatalf("features=%+v", fc.Features)
	}

	if code, _, _ := run(t, "geojson", "-i", writeCSV(t), "--min-tier", "scorching"); code != 1 {
		t.Fatalf("bad tier: exit=%d", code)
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	if code != 0 || strings.TrimSpace(out) != "heatmap test" {
		t.Fatalf("exit=%d out=%q", code, out)
	}
}

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/data/cellseg"
	"github.com/atlasmap-sc/phenospatial/internal/metrics"
	"github.com/atlasmap-sc/phenospatial/internal/service"
)

func fieldPoints(field string) []cells.Point {
	return []cells.Point{
		{ID: 1, X: 0, Y: 0, Phenotype: "X", Category: "Tumor", Field: field},
		{ID: 2, X: 10, Y: 0, Phenotype: "X", Category: "Tumor", Field: field},
		{ID: 3, X: 3, Y: 0, Phenotype: "Y", Category: "Tumor", Field: field},
		{ID: 4, X: 100, Y: 0, Phenotype: "Y", Category: "Stroma", Field: field},
	}
}

// setupTestServer registers two fields and returns a test server.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	registry := NewFieldRegistry()
	for _, f := range []string{"f1", "f2"} {
		if err := registry.Register(cells.New(fieldPoints(f)), f+"_cell_seg_data.txt"); err != nil {
			t.Fatalf("failed to register %s: %v", f, err)
		}
	}

	opts := service.DefaultOptions()
	opts.Metrics = metrics.New(metrics.Options{})
	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		Options:     opts,
		Rules:       cells.Rules{"Any": cells.AnyOf("X", "Y")},
		Workers:     2,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

// assertStatusCode verifies the HTTP status code
func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status code %d, got %d: %s", expected, resp.StatusCode, body)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to parse JSON response: %v", err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	assertStatusCode(t, resp, http.StatusOK)

	postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":"X","to":"Y","radii":[5]}`)

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer mresp.Body.Close()
	assertStatusCode(t, mresp, http.StatusOK)
	body, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(body), `phenospatial_rows_total{operation="count"} 1`) {
		t.Errorf("expected row counter in metrics output:\n%s", body)
	}
}

func TestFieldsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/fields")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	assertStatusCode(t, resp, http.StatusOK)

	var got struct {
		Fields []FieldInfo `json:"fields"`
	}
	decodeJSON(t, resp, &got)
	if len(got.Fields) != 2 || got.Fields[0].ID != "f1" || got.Fields[1].ID != "f2" {
		t.Fatalf("unexpected fields %+v", got.Fields)
	}
	if got.Fields[0].Points != 4 || len(got.Fields[0].Phenotypes) != 2 {
		t.Errorf("unexpected field info %+v", got.Fields[0])
	}
}

func TestCountEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("ok", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":"X","to":"Y","radii":[5]}`)
		assertStatusCode(t, resp, http.StatusOK)

		var got struct {
			Field string             `json:"field"`
			Rows  []service.CountRow `json:"rows"`
		}
		decodeJSON(t, resp, &got)
		if len(got.Rows) != 1 {
			t.Fatalf("expected 1 row, got %d", len(got.Rows))
		}
		r := got.Rows[0]
		if r.FromCount != 2 || r.ToCount != 2 || r.FromWith != 1 || r.WithinMean == nil || *r.WithinMean != 0.5 {
			t.Errorf("unexpected row %+v", r)
		}
	})

	t.Run("emptyToIsNull", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":"X","to":"Y","radii":[5],"category":"Stroma"}`)
		assertStatusCode(t, resp, http.StatusOK)
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), `"within_mean":null`) {
			t.Errorf("expected null mean, got %s", body)
		}
	})

	t.Run("ruleReference", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":{"rule":"Any"},"to":["Y"],"radii":[5]}`)
		assertStatusCode(t, resp, http.StatusOK)
	})

	t.Run("tsv", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count?format=tsv", `{"from":"X","to":"Y","radii":[5]}`)
		assertStatusCode(t, resp, http.StatusOK)
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "\tf1\tAll\tX\tY\t5\t2\t2\t1\t0.5") {
			t.Errorf("unexpected table:\n%s", body)
		}
	})

	t.Run("badRadius", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":"X","to":"Y","radii":[0]}`)
		assertStatusCode(t, resp, http.StatusBadRequest)
	})

	t.Run("undefinedRule", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":{"rule":"Nope"},"to":"Y","radii":[5]}`)
		assertStatusCode(t, resp, http.StatusBadRequest)
	})

	t.Run("unknownField", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/zz/count", `{"from":"X","to":"Y","radii":[5]}`)
		assertStatusCode(t, resp, http.StatusNotFound)
	})

	t.Run("malformedBody", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/fields/f1/count", `{"from":`)
		assertStatusCode(t, resp, http.StatusBadRequest)
	})
}

func TestNearestEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/fields/f1/nearest", `{"phenotypes":["Y"]}`)
	assertStatusCode(t, resp, http.StatusOK)
	var got struct {
		Rows []service.NearestRow `json:"rows"`
	}
	decodeJSON(t, resp, &got)
	if len(got.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(got.Rows))
	}
	n, ok := got.Rows[2].Get("Y")
	if !ok || n.NearestID == nil || *n.NearestID != 4 {
		t.Errorf("unexpected neighbour for point 3: %+v", n)
	}

	gresp, err := http.Get(ts.URL + "/api/fields/f1/nearest?phenotypes=X&format=tsv")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer gresp.Body.Close()
	assertStatusCode(t, gresp, http.StatusOK)
	body, _ := io.ReadAll(gresp.Body)
	if !strings.HasPrefix(string(body), "Slide ID\tField\tCell ID\tPhenotype\tTissue Category\tDistance to X\tCell ID X\n") {
		t.Errorf("unexpected table:\n%s", body)
	}
}

func TestBatchEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/count",
		`{"pairs":[{"from":"X","to":"Y"},{"from":"Y","to":{"rule":"Any"}}],"radii":[5,20],"categories":["Tumor"]}`)
	assertStatusCode(t, resp, http.StatusOK)

	var got struct {
		RunID    string             `json:"run_id"`
		Rows     []service.CountRow `json:"rows"`
		Failures []failureJSON      `json:"failures"`
	}
	decodeJSON(t, resp, &got)
	if got.RunID == "" || len(got.Failures) != 0 {
		t.Fatalf("unexpected response %+v", got)
	}
	if len(got.Rows) != 8 {
		t.Fatalf("expected 8 rows, got %d", len(got.Rows))
	}
	if got.Rows[0].Field != "f1" || got.Rows[4].Field != "f2" {
		t.Errorf("rows not in field order: %q, %q", got.Rows[0].Field, got.Rows[4].Field)
	}

	t.Run("mixedCategories", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/count", `{"pairs":[{"from":"X","to":"Y"}],"radii":[5],"categories":["","Tumor"]}`)
		assertStatusCode(t, resp, http.StatusBadRequest)
	})

	t.Run("unknownField", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/count", `{"pairs":[{"from":"X","to":"Y"}],"radii":[5],"fields":["f9"]}`)
		assertStatusCode(t, resp, http.StatusNotFound)
	})
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	good := "Sample Name\tCell ID\tCell X Position\tCell Y Position\tPhenotype\n" +
		"s1\t1\t0\t0\tCD8+\ns1\t2\t5\t5\tCK+\n"
	merged := "Sample Name\tCell ID\tCell X Position\tCell Y Position\tPhenotype\n" +
		"a\t1\t0\t0\tCD8+\nb\t2\t5\t5\tCK+\n"
	files := map[string]string{
		"s1_cell_seg_data.txt":     good,
		"mixed_cell_seg_data.txt":  merged,
		"broken_cell_seg_data.txt": "Cell ID\n1\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	registry := NewFieldRegistry()
	n, err := registry.LoadDir(dir, cellseg.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || registry.Get("s1") == nil {
		t.Fatalf("expected only s1 to load, got %d fields %v", n, registry.FieldIDs())
	}
}

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meltforce/vitals/internal/aggregate"
	"github.com/meltforce/vitals/internal/ingest"
	"github.com/meltforce/vitals/internal/storage"
)

const testAPIKey = "test-key"

func testServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := ingest.NewProvider(store, storage.KeepFirst, log)
	engine := aggregate.NewEngine(store, log)
	return New(store, provider, engine, testAPIKey, log)
}

func doRequest(t *testing.T, srv *Server, method, path, body string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if withKey {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

const ingestBody = `{"data":{"metrics":[{"name":"step_count","units":"count","data":[
	{"date":"2024-02-06 09:00:00 +0000","qty":500,"source":"Apple Watch"},
	{"date":"2024-02-06 09:01:00 +0000","qty":120,"source":"Apple Watch"}
]}]}}`

func TestIngestEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/ingest", ingestBody, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var result ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.SamplesReceived != 2 || result.SamplesStored != 2 {
		t.Errorf("counts = %d/%d, want 2/2", result.SamplesReceived, result.SamplesStored)
	}
}

func TestIngestEndpointAuth(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/ingest", ingestBody, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(ingestBody))
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", rec.Code)
	}

	// Auth failures carry the same JSON error body as every other handler.
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("auth failure Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("auth failure body is not JSON: %v (%s)", err, rec.Body)
	}
	if body["error"] == "" {
		t.Errorf("auth failure body = %v, want an error field", body)
	}
}

func TestIngestEndpointBadInput(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/ingest", "{not json", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/ingest", `{"data":{}}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty envelope status = %d, want 400", rec.Code)
	}
}

func TestQueryEndpointValidation(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing kind", "/api/v1/metrics", http.StatusBadRequest},
		{"unknown kind", "/api/v1/metrics?kind=mood_score", http.StatusBadRequest},
		{"bad granularity", "/api/v1/metrics?kind=step_count&granularity=hourly", http.StatusBadRequest},
		{"bad days", "/api/v1/metrics?kind=step_count&days=-1", http.StatusBadRequest},
		{"bad limit", "/api/v1/metrics?kind=step_count&limit=xyz", http.StatusBadRequest},
		{"valid empty", "/api/v1/metrics?kind=step_count", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodGet, tt.path, "", false)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

// TestIngestThenQuery exercises the round trip: realtime ingest followed by a
// daily step query over an explicit date range.
func TestIngestThenQuery(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/realtime", ingestBody, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, srv, http.MethodGet,
		"/api/v1/metrics?kind=step_count&start=2024-02-06&end=2024-02-06&granularity=daily", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", rec.Code, rec.Body)
	}

	var series aggregate.Series
	if err := json.Unmarshal(rec.Body.Bytes(), &series); err != nil {
		t.Fatalf("decoding series: %v", err)
	}
	if len(series.Groups) != 1 {
		t.Fatalf("groups = %d, want 1 (body %s)", len(series.Groups), rec.Body)
	}
	if series.Groups[0].Value != 620 {
		t.Errorf("daily steps = %v, want 620", series.Groups[0].Value)
	}
	if series.Summary == nil || series.Summary.Total != 620 {
		t.Errorf("summary = %+v, want total 620", series.Summary)
	}
}

func TestKindsEndpoint(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/kinds", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var kinds []string
	if err := json.Unmarshal(rec.Body.Bytes(), &kinds); err != nil {
		t.Fatalf("decoding kinds: %v", err)
	}
	if len(kinds) == 0 {
		t.Fatal("no kinds returned")
	}
	for _, k := range []string{"step_count", "heart_rate", "sleep_analysis"} {
		found := false
		for _, have := range kinds {
			if have == k {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("kind %q missing from catalog", k)
		}
	}
}

func TestImportsAndStatsEndpoints(t *testing.T) {
	srv := testServer(t)

	if rec := doRequest(t, srv, http.MethodPost, "/api/v1/ingest", ingestBody, true); rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", rec.Code)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/imports", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("imports status = %d", rec.Code)
	}
	var batches []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatalf("decoding imports: %v", err)
	}
	if len(batches) != 1 {
		t.Errorf("imports = %d, want 1", len(batches))
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/stats", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats storage.DataStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalSamples != 2 || stats.TotalImportBatches != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodOptions, "/api/v1/metrics", "", false)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

package debugserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zsiec/moqview/internal/metrics"
)

func newTestServer(t *testing.T, stats StatsFunc) *Server {
	t.Helper()
	return New(":0", metrics.New(), stats)
}

func TestHealthzReportsOK(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func() any { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestStatsServesCallerSnapshot(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func() any {
		return map[string]string{"status": "live"}
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type = %q", ct)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got["status"] != "live" {
		t.Fatalf("got %+v", got)
	}
}

func TestMetricsServesPrometheusFormat(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func() any { return nil })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

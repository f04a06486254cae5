package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"assetvault/internal/api"
	"assetvault/internal/observability/logging"
	"assetvault/internal/observability/metrics"
	"assetvault/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "assets.json"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	handler := api.NewHandler(store, nil)
	if cfg.Logger == nil {
		cfg.Logger = logging.New(logging.Config{Writer: io.Discard})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	return srv.httpServer.Handler
}

func TestServerRoutesAssets(t *testing.T) {
	handler := newTestServer(t, Config{})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/assets",
		strings.NewReader(`{"title":"routed","blobUrl":"https://blobs.example/u/r.bin"}`))
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/assets/"+created.ID, nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on item route, got %d", recorder.Code)
	}
}

func TestServerSetsRequestID(t *testing.T) {
	handler := newTestServer(t, Config{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/assets", nil))
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated X-Request-Id header")
	}

	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/assets", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	handler.ServeHTTP(recorder, req)
	if got := recorder.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("expected inbound request id echoed, got %q", got)
	}
}

func TestCompletionLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	handler := newTestServer(t, Config{Logger: logging.New(logging.Config{Writer: &buf})})

	req := httptest.NewRequest(http.MethodGet, "/api/assets", nil)
	req.Header.Set("X-Request-Id", "req-abc-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if entry["msg"] != "request completed" {
			continue
		}
		found = true
		if entry["request_id"] != "req-abc-1" {
			t.Fatalf("completion log missing inbound request id: %v", entry)
		}
	}
	if !found {
		t.Fatal("no completion log line emitted")
	}
}

func TestServerSetsSecurityHeaders(t *testing.T) {
	handler := newTestServer(t, Config{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/assets", nil))
	if got := recorder.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff header, got %q", got)
	}
	if got := recorder.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("missing frame options header, got %q", got)
	}
}

func TestServerRecordsMetrics(t *testing.T) {
	recorder := metrics.New()
	handler := newTestServer(t, Config{Metrics: recorder})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/assets", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if count := recorder.RequestCount(http.MethodGet, "/api/assets", http.StatusOK); count != 1 {
		t.Fatalf("expected one recorded request, got %d", count)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "assetvault_http_requests_total") {
		t.Fatal("metrics exposition missing request counter")
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	handler := newTestServer(t, Config{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	// Blob storage is unconfigured in this setup, so health is degraded.
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	handler := newTestServer(t, Config{
		CORS: CORSConfig{AllowedOrigins: []string{"https://app.example"}},
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/assets", nil)
	req.Header.Set("Origin", "https://app.example")
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow-origin header %q", got)
	}

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/api/assets", nil)
	req.Header.Set("Origin", "https://evil.example")
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin preflight, got %d", recorder.Code)
	}
}

func TestCORSRejectsInvalidOriginConfig(t *testing.T) {
	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"not a url"}}); err == nil {
		t.Fatal("expected error for malformed origin")
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4411"
	if got := extractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("extractClientIP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := extractClientIP(req); got != "198.51.100.7" {
		t.Fatalf("extractClientIP with XFF = %q", got)
	}
}

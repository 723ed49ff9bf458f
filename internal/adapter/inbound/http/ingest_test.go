package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/adapter/outbound/memory"
	"github.com/driftline/driftline/internal/adapter/outbound/sqlite"
	"github.com/driftline/driftline/internal/domain/source"
	"github.com/driftline/driftline/internal/service"
)

type ingestFixture struct {
	handler  http.Handler
	registry *service.SourceRegistry
	store    *sqlite.Store
	src      *source.Source
	key      string
}

// newIngestFixture wires the full ingest stack over a throwaway database and
// registers one source, returning its plaintext API key.
func newIngestFixture(t *testing.T, rateLimit int) *ingestFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	auditor := service.NewAuditRecorder(store.Audit(), logger)
	registry := service.NewSourceRegistry(store.Sources(), auditor, logger)
	ingestion := service.NewIngestionService(store.Events(), logger)
	limiter := memory.NewRateLimiter()

	src, key, err := registry.Create(context.Background(), "test", service.CreateSourceInput{
		Key:       "vpn",
		Name:      "VPN concentrator",
		RateLimit: rateLimit,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	transport := NewTransport(registry, ingestion, limiter,
		WithLogger(logger),
		WithHealthChecker(NewHealthChecker(store, nil, "test")))

	return &ingestFixture{
		handler:  transport.Handler(),
		registry: registry,
		store:    store,
		src:      src,
		key:      key,
	}
}

func (f *ingestFixture) post(t *testing.T, path, apiKey string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func validPayload() map[string]any {
	return map[string]any{
		"actor":     "alice",
		"action":    "file_download",
		"timestamp": "2026-03-10T12:00:00Z",
		"outcome":   "success",
	}
}

func timeMustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestIngest_Accepted(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 10)

	rec := f.post(t, "/ingest/vpn", f.key, validPayload())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	eventID, _ := body["eventId"].(string)
	if eventID == "" {
		t.Error("response must carry the event ID")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}

	// The normalized event is persisted.
	evs, err := f.store.Events().ListActorEventsSince(context.Background(), "alice", timeMustParse(t, "2026-03-10T00:00:00Z"))
	if err != nil {
		t.Fatalf("ListActorEventsSince() error: %v", err)
	}
	if len(evs) != 1 || evs[0].ID != eventID {
		t.Errorf("persisted events = %+v, want the accepted one", evs)
	}
}

func TestIngest_RequestIDEcho(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 10)

	body, _ := json.Marshal(validPayload())
	req := httptest.NewRequest(http.MethodPost, "/ingest/vpn", bytes.NewReader(body))
	req.Header.Set("x-api-key", f.key)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("X-Request-ID = %q, want the client's value echoed", rec.Header().Get("X-Request-ID"))
	}

	// Absent a client value, one is generated.
	req = httptest.NewRequest(http.MethodPost, "/ingest/vpn", bytes.NewReader(body))
	req.Header.Set("x-api-key", f.key)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated when absent")
	}
}

func TestIngest_Unauthorized(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 10)

	disabled, _, err := f.registry.Create(context.Background(), "test", service.CreateSourceInput{
		Key: "dark", Name: "Disabled source",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	off := false
	if _, err := f.registry.Update(context.Background(), "test", disabled.ID, source.Patch{Enabled: &off}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		apiKey  string
		wantMsg string
	}{
		{"missing key", "/ingest/vpn", "", "Missing API key"},
		{"wrong key", "/ingest/vpn", "irm_not-the-right-secret", "Invalid API key"},
		{"unknown source", "/ingest/ghost", f.key, "Invalid API key"},
		{"disabled source", "/ingest/dark", f.key, "Invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, tt.path, tt.apiKey, validPayload())
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %v, want %q", body["error"], tt.wantMsg)
			}
			// The uniform body never names the source or carries details.
			if _, ok := body["details"]; ok {
				t.Error("401 body must not carry details")
			}
		})
	}

	// No rejected request left an event behind.
	actors, err := f.store.Events().ActiveActorsSince(context.Background(), timeMustParse(t, "2000-01-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("ActiveActorsSince() error: %v", err)
	}
	if len(actors) != 0 {
		t.Errorf("rejected requests persisted events for %v", actors)
	}
}

func TestIngest_RateLimited(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 2)

	for i := 0; i < 2; i++ {
		if rec := f.post(t, "/ingest/vpn", f.key, validPayload()); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d status = %d, want 202", i, rec.Code)
		}
	}

	rec := f.post(t, "/ingest/vpn", f.key, validPayload())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
	body := decodeBody(t, rec)
	if body["error"] != "Rate limit exceeded" {
		t.Errorf("error = %v", body["error"])
	}
	if retry, ok := body["retryAfter"].(float64); !ok || retry < 1 {
		t.Errorf("retryAfter = %v, want >= 1", body["retryAfter"])
	}
}

func TestIngest_BadPayloads(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 100)

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/ingest/vpn", strings.NewReader("{not json"))
	req.Header.Set("x-api-key", f.key)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Invalid JSON payload" {
		t.Errorf("error = %v", body["error"])
	}

	// Missing required fields, with per-field details.
	rec = f.post(t, "/ingest/vpn", f.key, map[string]any{"timestamp": "2026-03-10T12:00:00Z"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Validation failed" {
		t.Errorf("error = %v", body["error"])
	}
	details, _ := body["details"].([]any)
	if len(details) != 2 {
		t.Errorf("details = %v, want actorId and actionType", body["details"])
	}

	// Neither rejection persisted an event.
	actors, err := f.store.Events().ActiveActorsSince(context.Background(), timeMustParse(t, "2000-01-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("ActiveActorsSince() error: %v", err)
	}
	if len(actors) != 0 {
		t.Errorf("rejected payloads persisted events for %v", actors)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["store"] != "ok" {
		t.Errorf("store check = %v, want ok", checks["store"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newIngestFixture(t, 10)

	// One accepted request so the counters have samples.
	if rec := f.post(t, "/ingest/vpn", f.key, validPayload()); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	out := rec.Body.String()
	for _, metric := range []string{"driftline_ingest_requests_total", "driftline_events_stored_total", "go_goroutines"} {
		if !strings.Contains(out, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}

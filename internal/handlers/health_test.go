package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Time.IsZero() {
		t.Fatal("expected response time to be populated")
	}
	return resp
}

func TestHealthWithoutDatabase(t *testing.T) {
	original := database
	database = nil
	defer func() { database = original }()

	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decodeHealth(t, w)
	if resp.Status != "ok" || resp.Database != "not_configured" {
		t.Fatalf("unexpected health response %+v", resp)
	}
}

func TestHealthPingsDatabase(t *testing.T) {
	db, cleanup := withTestDatabase(t)
	defer cleanup()

	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if resp := decodeHealth(t, w); resp.Database != "ok" {
		t.Fatalf("expected database ok, got %+v", resp)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.Close()

	w = httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 after close, got %d", w.Code)
	}
	if resp := decodeHealth(t, w); resp.Status != "degraded" || resp.Database != "unavailable" {
		t.Fatalf("unexpected health response %+v", resp)
	}
}

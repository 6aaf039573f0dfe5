package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"makercalc/internal/apperr"
	"makercalc/internal/service"
)

func TestWriteServiceErrorStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		keys   []string
	}{
		{"validation", apperr.Validation("quantity", "must be greater than zero"), http.StatusBadRequest, []string{"error", "field"}},
		{"cycle", &apperr.CycleError{Path: []uint{1, 2, 1}}, http.StatusUnprocessableEntity, []string{"error", "path"}},
		{"wrapped cycle", &apperr.DependencyError{FormulationID: 3, SubFormulationID: 1, Err: &apperr.CycleError{Path: []uint{1, 1}}}, http.StatusUnprocessableEntity, []string{"path"}},
		{"not found", apperr.NotFound("material", 9), http.StatusNotFound, []string{"error"}},
		{"quota", &apperr.QuotaExceededError{Resource: "materials", Usage: 50, Limit: 50}, http.StatusPaymentRequired, []string{"resource", "usage", "limit"}},
		{"read only", &apperr.ReadOnlyError{Resource: "formulations", ItemID: 4, Limit: 3}, http.StatusLocked, []string{"resource", "item_id", "limit"}},
		{"storage", fmt.Errorf("upload: %w", service.ErrStorageUnavailable), http.StatusServiceUnavailable, []string{"error"}},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, []string{"error"}},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, []string{"error"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := httptest.NewRecorder()
			writeServiceError(rr, httptest.NewRequest(http.MethodGet, "/app/api/materials", nil), tt.err)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			for _, key := range tt.keys {
				if _, ok := body[key]; !ok {
					t.Fatalf("expected key %q in body %v", key, body)
				}
			}
		})
	}
}

func TestInternalErrorsDoNotLeakDetails(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	writeServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "internal error" {
		t.Fatalf("expected generic message, got %q", body["error"])
	}
}

func TestResourcePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		id     uint
		action string
		ok     bool
	}{
		{"/app/api/materials", 0, "", true},
		{"/app/api/materials/", 0, "", true},
		{"/app/api/materials/12", 12, "", true},
		{"/app/api/materials/12/duplicate", 12, "duplicate", true},
		{"/app/api/materials/abc", 0, "", false},
		{"/app/api/materials/0", 0, "", false},
		{"/app/api/materials/1/2/3", 0, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			id, action, ok := resourcePath(httptest.NewRequest(http.MethodGet, tt.path, nil), "/app/api/materials")
			if id != tt.id || action != tt.action || ok != tt.ok {
				t.Fatalf("resourcePath(%q) = (%d, %q, %t), want (%d, %q, %t)", tt.path, id, action, ok, tt.id, tt.action, tt.ok)
			}
		})
	}
}

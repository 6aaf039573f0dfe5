package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"makercalc/internal/apperr"
	applog "makercalc/internal/log"
	"makercalc/internal/service"
)

const maxJSONBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		applog.Error(context.Background(), "failed to encode json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeServiceError renders err with the status of its apperr type. Untyped
// errors are logged and reported as internal errors without their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *apperr.ValidationError
		cycle      *apperr.CycleError
		notFound   *apperr.NotFoundError
		exceeded   *apperr.QuotaExceededError
		readOnly   *apperr.ReadOnlyError
	)

	switch {
	case errors.As(err, &cycle):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": cycle.Error(),
			"path":  cycle.Path,
		})
	case errors.As(err, &validation):
		body := map[string]any{"error": validation.Error()}
		if validation.Field != "" {
			body["field"] = validation.Field
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &notFound):
		writeJSONError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":    exceeded.Error(),
			"resource": exceeded.Resource,
			"usage":    exceeded.Usage,
			"limit":    exceeded.Limit,
		})
	case errors.As(err, &readOnly):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":    readOnly.Error(),
			"resource": readOnly.Resource,
			"item_id":  readOnly.ItemID,
			"limit":    readOnly.Limit,
		})
	case errors.Is(err, service.ErrStorageUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		applog.Debug(r.Context(), "request canceled", "path", r.URL.Path)
		writeJSONError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		applog.Error(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		applog.Debug(r.Context(), "invalid request payload", "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// resourcePath splits the remainder of r.URL.Path after prefix. The id is zero
// when the path names the collection.
func resourcePath(r *http.Request, prefix string) (id uint, action string, ok bool) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if path == "" {
		return 0, "", true
	}
	segments := strings.Split(path, "/")
	if len(segments) > 2 {
		return 0, "", false
	}
	value, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil || value == 0 {
		applog.Debug(r.Context(), "invalid resource identifier", "path", r.URL.Path, "identifier", segments[0])
		return 0, "", false
	}
	if len(segments) == 2 {
		action = segments[1]
	}
	return uint(value), action, true
}

func queryUint(r *http.Request, key string) (*uint, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, true
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	id := uint(value)
	return &id, true
}

func queryBool(r *http.Request, key string) (*bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, false
	}
	return &value, true
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	w.WriteHeader(http.StatusMethodNotAllowed)
}

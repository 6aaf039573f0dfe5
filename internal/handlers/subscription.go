package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"makercalc/internal/plans"
	"makercalc/internal/service"
)

type subscriptionResponse struct {
	service.SubscriptionView
	Plans []plans.Plan `json:"available_plans"`
}

type planChangeRequest struct {
	Tier string `json:"tier"`
}

// SubscriptionResource reports the plan and quota usage of the user and
// applies plan changes.
func SubscriptionResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	if strings.Trim(strings.TrimPrefix(r.URL.Path, "/app/api/subscription"), "/") != "" {
		http.NotFound(w, r)
		return
	}

	var (
		view service.SubscriptionView
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		view, err = services.SubscriptionStatus(r.Context(), userID)
	case http.MethodPut:
		var payload planChangeRequest
		if !decodeJSON(w, r, &payload) {
			return
		}
		view, err = services.ChangePlan(r.Context(), userID, payload.Tier)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{SubscriptionView: view, Plans: services.Plans().All()})
}

// RefreshCosts recomputes every formulation of the user in dependency order.
func RefreshCosts(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	report, err := services.RefreshCosts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Activity lists the most recent audit entries of the user.
func Activity(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = value
	}
	entries, err := services.RecentActivity(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Dashboard returns the workspace overview of the user.
func Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	summary, err := services.DashboardSummary(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

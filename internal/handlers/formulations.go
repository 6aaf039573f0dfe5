package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"makercalc/internal/costing"
	"makercalc/internal/quota"
	"makercalc/internal/service"
	"makercalc/models"
)

type formulationResponse struct {
	ID                 uint                 `json:"id"`
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	BatchSize          decimal.Decimal      `json:"batch_size"`
	BatchUnit          string               `json:"batch_unit"`
	TargetPrice        *decimal.Decimal     `json:"target_price"`
	MarkupPercentage   decimal.Decimal      `json:"markup_percentage"`
	IsActive           bool                 `json:"is_active"`
	TotalCost          decimal.Decimal      `json:"total_cost"`
	UnitCost           decimal.Decimal      `json:"unit_cost"`
	MarkupEligibleCost decimal.Decimal      `json:"markup_eligible_cost"`
	SuggestedPrice     decimal.Decimal      `json:"suggested_price"`
	ProfitMargin       decimal.Decimal      `json:"profit_margin"`
	CostError          string               `json:"cost_error,omitempty"`
	CostsRefreshedAt   *time.Time           `json:"costs_refreshed_at"`
	ReadOnly           bool                 `json:"read_only"`
	Ingredients        []ingredientResponse `json:"ingredients,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

type formulationRequest struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	BatchSize        decimal.Decimal  `json:"batch_size"`
	BatchUnit        string           `json:"batch_unit"`
	TargetPrice      *decimal.Decimal `json:"target_price"`
	MarkupPercentage *decimal.Decimal `json:"markup_percentage"`
}

type formulationUpdateResponse struct {
	Formulation formulationResponse   `json:"formulation"`
	Refresh     service.RefreshReport `json:"refresh"`
}

type scaleRequest struct {
	BatchSize decimal.Decimal `json:"batch_size"`
}

func (p formulationRequest) input() service.FormulationInput {
	return service.FormulationInput{
		Name:             p.Name,
		Description:      p.Description,
		BatchSize:        p.BatchSize,
		BatchUnit:        p.BatchUnit,
		TargetPrice:      p.TargetPrice,
		MarkupPercentage: p.MarkupPercentage,
	}
}

// FormulationResource handles REST-style interactions for formulations.
func FormulationResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}

	formulationID, action, ok := resourcePath(r, "/app/api/formulations")
	if !ok {
		http.NotFound(w, r)
		return
	}

	if formulationID == 0 {
		switch r.Method {
		case http.MethodGet:
			listFormulations(w, r, userID)
		case http.MethodPost:
			createFormulation(w, r, userID)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	if action != "" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		switch action {
		case "duplicate":
			respondFormulation(w, r, http.StatusCreated, userID)(services.DuplicateFormulation(r.Context(), userID, formulationID))
		case "archive":
			respondFormulation(w, r, http.StatusOK, userID)(services.ArchiveFormulation(r.Context(), userID, formulationID))
		case "restore":
			respondFormulation(w, r, http.StatusOK, userID)(services.RestoreFormulation(r.Context(), userID, formulationID))
		case "recalculate":
			respondFormulation(w, r, http.StatusOK, userID)(services.RecalculateFormulation(r.Context(), userID, formulationID))
		case "scale":
			scaleFormulation(w, r, formulationID, userID)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		respondFormulation(w, r, http.StatusOK, userID)(services.GetFormulation(r.Context(), userID, formulationID))
	case http.MethodPut:
		updateFormulation(w, r, formulationID, userID)
	case http.MethodDelete:
		if err := services.DeleteFormulation(r.Context(), userID, formulationID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func listFormulations(w http.ResponseWriter, r *http.Request, userID uint) {
	includeArchived, ok := queryBool(r, "include_archived")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "include_archived must be true or false")
		return
	}
	formulations, err := services.ListFormulations(r.Context(), userID, includeArchived != nil && *includeArchived)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	locked, err := readOnlyStatus(r, userID, quota.Formulations)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	responses := make([]formulationResponse, 0, len(formulations))
	for _, formulation := range formulations {
		responses = append(responses, projectFormulation(formulation, locked.IsReadOnly(formulation.ID)))
	}
	writeJSON(w, http.StatusOK, responses)
}

func createFormulation(w http.ResponseWriter, r *http.Request, userID uint) {
	var payload formulationRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	respondFormulation(w, r, http.StatusCreated, userID)(services.CreateFormulation(r.Context(), userID, payload.input()))
}

func updateFormulation(w http.ResponseWriter, r *http.Request, formulationID, userID uint) {
	var payload formulationRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	formulation, report, err := services.UpdateFormulation(r.Context(), userID, formulationID, payload.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formulationUpdateResponse{
		Formulation: projectFormulation(formulation, false),
		Refresh:     report,
	})
}

func scaleFormulation(w http.ResponseWriter, r *http.Request, formulationID, userID uint) {
	var payload scaleRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	report, err := services.ScaleFormulation(r.Context(), userID, formulationID, payload.BatchSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// respondFormulation returns a writer for the result of a service call
// yielding a single formulation.
func respondFormulation(w http.ResponseWriter, r *http.Request, status int, userID uint) func(models.Formulation, error) {
	return func(formulation models.Formulation, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		locked, err := readOnlyStatus(r, userID, quota.Formulations)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, status, projectFormulation(formulation, locked.IsReadOnly(formulation.ID)))
	}
}

func projectFormulation(formulation models.Formulation, readOnly bool) formulationResponse {
	resp := formulationResponse{
		ID:                 formulation.ID,
		Name:               formulation.Name,
		Description:        formulation.Description,
		BatchSize:          formulation.BatchSize,
		BatchUnit:          formulation.BatchUnit,
		MarkupPercentage:   formulation.MarkupPercentage,
		IsActive:           formulation.IsActive,
		TotalCost:          formulation.TotalCost.Round(costing.CostPlaces),
		UnitCost:           formulation.UnitCost.Round(costing.CostPlaces),
		MarkupEligibleCost: formulation.MarkupEligibleCost.Round(costing.CostPlaces),
		SuggestedPrice:     formulation.SuggestedPrice.Round(costing.PricePlaces),
		ProfitMargin:       formulation.ProfitMargin.Round(costing.PricePlaces),
		CostError:          formulation.CostError,
		CostsRefreshedAt:   formulation.CostsRefreshedAt,
		ReadOnly:           readOnly,
		CreatedAt:          formulation.CreatedAt,
		UpdatedAt:          formulation.UpdatedAt,
	}
	if formulation.TargetPrice.Valid {
		price := formulation.TargetPrice.Decimal
		resp.TargetPrice = &price
	}
	if len(formulation.Ingredients) > 0 {
		resp.Ingredients = make([]ingredientResponse, 0, len(formulation.Ingredients))
		for _, ing := range formulation.Ingredients {
			resp.Ingredients = append(resp.Ingredients, projectIngredient(ing))
		}
	}
	return resp
}

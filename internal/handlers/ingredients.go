package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"makercalc/internal/costing"
	"makercalc/internal/service"
	"makercalc/models"
)

type ingredientResponse struct {
	ID               uint            `json:"id"`
	FormulationID    uint            `json:"formulation_id"`
	MaterialID       *uint           `json:"material_id"`
	SubFormulationID *uint           `json:"sub_formulation_id"`
	Kind             string          `json:"kind"`
	Name             string          `json:"name"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit"`
	CostContribution decimal.Decimal `json:"cost_contribution"`
	IncludeInMarkup  bool            `json:"include_in_markup"`
	SortOrder        int             `json:"sort_order"`
	Notes            string          `json:"notes"`
}

type ingredientRequest struct {
	FormulationID    uint            `json:"formulation_id"`
	MaterialID       *uint           `json:"material_id"`
	SubFormulationID *uint           `json:"sub_formulation_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit"`
	IncludeInMarkup  *bool           `json:"include_in_markup"`
	SortOrder        *int            `json:"sort_order"`
	Notes            string          `json:"notes"`
}

type ingredientUpdateResponse struct {
	Ingredient ingredientResponse    `json:"ingredient"`
	Refresh    service.RefreshReport `json:"refresh"`
}

func (p ingredientRequest) input() service.IngredientInput {
	return service.IngredientInput{
		FormulationID:    p.FormulationID,
		MaterialID:       p.MaterialID,
		SubFormulationID: p.SubFormulationID,
		Quantity:         p.Quantity,
		Unit:             p.Unit,
		IncludeInMarkup:  p.IncludeInMarkup,
		SortOrder:        p.SortOrder,
		Notes:            p.Notes,
	}
}

// FormulationIngredientResource handles REST-style interactions for the
// ingredient lines of formulations.
func FormulationIngredientResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	ingredientID, action, ok := resourcePath(r, "/app/api/formulation-ingredients")
	if !ok || action != "" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	if ingredientID == 0 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var payload ingredientRequest
		if !decodeJSON(w, r, &payload) {
			return
		}
		ingredient, report, err := services.AddIngredient(ctx, userID, payload.input())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ingredientUpdateResponse{Ingredient: projectIngredient(ingredient), Refresh: report})
		return
	}

	switch r.Method {
	case http.MethodGet:
		ingredient, err := services.GetIngredient(ctx, userID, ingredientID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectIngredient(ingredient))
	case http.MethodPut:
		var payload ingredientRequest
		if !decodeJSON(w, r, &payload) {
			return
		}
		ingredient, report, err := services.UpdateIngredient(ctx, userID, ingredientID, payload.input())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ingredientUpdateResponse{Ingredient: projectIngredient(ingredient), Refresh: report})
	case http.MethodDelete:
		report, err := services.RemoveIngredient(ctx, userID, ingredientID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func projectIngredient(ing models.FormulationIngredient) ingredientResponse {
	resp := ingredientResponse{
		ID:               ing.ID,
		FormulationID:    ing.FormulationID,
		MaterialID:       ing.MaterialID,
		SubFormulationID: ing.SubFormulationID,
		Kind:             "material",
		Quantity:         ing.Quantity,
		Unit:             ing.Unit,
		CostContribution: ing.CostContribution.Round(costing.CostPlaces),
		IncludeInMarkup:  ing.IncludeInMarkup,
		SortOrder:        ing.SortOrder,
		Notes:            ing.Notes,
	}
	if ing.SubFormulationID != nil {
		resp.Kind = "formulation"
	}
	switch {
	case ing.Material != nil:
		resp.Name = ing.Material.Name
	case ing.SubFormulation != nil:
		resp.Name = ing.SubFormulation.Name
	}
	return resp
}

package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"makercalc/internal/costing"
	applog "makercalc/internal/log"
	"makercalc/internal/quota"
	"makercalc/internal/service"
	"makercalc/models"
)

type materialResponse struct {
	ID           uint            `json:"id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	CategoryID   *uint           `json:"category_id"`
	CategoryName string          `json:"category_name,omitempty"`
	VendorID     *uint           `json:"vendor_id"`
	VendorName   string          `json:"vendor_name,omitempty"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	IsActive     bool            `json:"is_active"`
	Notes        string          `json:"notes"`
	ReadOnly     bool            `json:"read_only"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type materialRequest struct {
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	CategoryID *uint           `json:"category_id"`
	VendorID   *uint           `json:"vendor_id"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	IsActive   *bool           `json:"is_active"`
	Notes      string          `json:"notes"`
}

type materialUpdateResponse struct {
	Material materialResponse      `json:"material"`
	Refresh  service.RefreshReport `json:"refresh"`
}

func (p materialRequest) input() service.MaterialInput {
	return service.MaterialInput{
		Name:       p.Name,
		SKU:        p.SKU,
		CategoryID: p.CategoryID,
		VendorID:   p.VendorID,
		TotalCost:  p.TotalCost,
		Quantity:   p.Quantity,
		Unit:       p.Unit,
		IsActive:   p.IsActive,
		Notes:      p.Notes,
	}
}

// MaterialResource handles REST-style interactions for raw materials.
func MaterialResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}

	materialID, action, ok := resourcePath(r, "/app/api/materials")
	if !ok {
		http.NotFound(w, r)
		return
	}

	if materialID == 0 {
		switch r.Method {
		case http.MethodGet:
			listMaterials(w, r, userID)
		case http.MethodPost:
			createMaterial(w, r, userID)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	switch action {
	case "":
	case "duplicate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		duplicateMaterial(w, r, materialID, userID)
		return
	default:
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		showMaterial(w, r, materialID, userID)
	case http.MethodPut:
		updateMaterial(w, r, materialID, userID)
	case http.MethodDelete:
		deleteMaterial(w, r, materialID, userID)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func listMaterials(w http.ResponseWriter, r *http.Request, userID uint) {
	ctx := r.Context()
	categoryID, ok := queryUint(r, "category_id")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "category_id must be a number")
		return
	}
	vendorID, ok := queryUint(r, "vendor_id")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "vendor_id must be a number")
		return
	}
	active, ok := queryBool(r, "active")
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "active must be true or false")
		return
	}

	materials, err := services.ListMaterials(ctx, userID, service.MaterialFilter{
		CategoryID: categoryID,
		VendorID:   vendorID,
		Active:     active,
		Search:     r.URL.Query().Get("q"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	locked, err := readOnlyStatus(r, userID, quota.Materials)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	responses := make([]materialResponse, 0, len(materials))
	for _, material := range materials {
		responses = append(responses, projectMaterial(material, locked.IsReadOnly(material.ID)))
	}
	applog.Debug(ctx, "materials listed", "userID", userID, "count", len(responses))
	writeJSON(w, http.StatusOK, responses)
}

func showMaterial(w http.ResponseWriter, r *http.Request, materialID, userID uint) {
	material, err := services.GetMaterial(r.Context(), userID, materialID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMaterial(w, r, http.StatusOK, userID, material)
}

func createMaterial(w http.ResponseWriter, r *http.Request, userID uint) {
	var payload materialRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	material, err := services.CreateMaterial(r.Context(), userID, payload.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMaterial(w, r, http.StatusCreated, userID, material)
}

func updateMaterial(w http.ResponseWriter, r *http.Request, materialID, userID uint) {
	var payload materialRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	material, report, err := services.UpdateMaterial(r.Context(), userID, materialID, payload.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, materialUpdateResponse{
		Material: projectMaterial(material, false),
		Refresh:  report,
	})
}

func deleteMaterial(w http.ResponseWriter, r *http.Request, materialID, userID uint) {
	if err := services.DeleteMaterial(r.Context(), userID, materialID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func duplicateMaterial(w http.ResponseWriter, r *http.Request, materialID, userID uint) {
	material, err := services.DuplicateMaterial(r.Context(), userID, materialID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMaterial(w, r, http.StatusCreated, userID, material)
}

func writeMaterial(w http.ResponseWriter, r *http.Request, status int, userID uint, material models.RawMaterial) {
	locked, err := readOnlyStatus(r, userID, quota.Materials)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, projectMaterial(material, locked.IsReadOnly(material.ID)))
}

func projectMaterial(material models.RawMaterial, readOnly bool) materialResponse {
	resp := materialResponse{
		ID:         material.ID,
		Name:       material.Name,
		SKU:        material.SKU,
		CategoryID: material.CategoryID,
		VendorID:   material.VendorID,
		TotalCost:  material.TotalCost,
		Quantity:   material.Quantity,
		Unit:       material.Unit,
		UnitCost:   costing.DisplayUnitCost(material.UnitCost),
		IsActive:   material.IsActive,
		Notes:      material.Notes,
		ReadOnly:   readOnly,
		CreatedAt:  material.CreatedAt,
		UpdatedAt:  material.UpdatedAt,
	}
	if material.Category != nil {
		resp.CategoryName = material.Category.Name
	}
	if material.Vendor != nil {
		resp.VendorName = material.Vendor.Name
	}
	return resp
}

// readOnlyStatus evaluates the quota of res so responses can flag soft locked items.
func readOnlyStatus(r *http.Request, userID uint, res quota.Resource) (quota.ResourceStatus, error) {
	view, err := services.SubscriptionStatus(r.Context(), userID)
	if err != nil {
		return quota.ResourceStatus{}, err
	}
	return view.Quota.Resource(res), nil
}

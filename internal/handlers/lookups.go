package handlers

import (
	"net/http"
	"time"

	"makercalc/internal/quota"
	"makercalc/internal/service"
	"makercalc/models"
)

type vendorResponse struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contact_email"`
	Phone        string    `json:"phone"`
	Website      string    `json:"website"`
	Notes        string    `json:"notes"`
	ReadOnly     bool      `json:"read_only"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type vendorRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
	Phone        string `json:"phone"`
	Website      string `json:"website"`
	Notes        string `json:"notes"`
}

type categoryResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ReadOnly    bool      `json:"read_only"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (p vendorRequest) input() service.VendorInput {
	return service.VendorInput{
		Name:         p.Name,
		ContactEmail: p.ContactEmail,
		Phone:        p.Phone,
		Website:      p.Website,
		Notes:        p.Notes,
	}
}

// VendorResource handles REST-style interactions for vendors.
func VendorResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	vendorID, action, ok := resourcePath(r, "/app/api/vendors")
	if !ok || action != "" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	if vendorID == 0 {
		switch r.Method {
		case http.MethodGet:
			vendors, err := services.ListVendors(ctx, userID)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			locked, err := readOnlyStatus(r, userID, quota.Vendors)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			responses := make([]vendorResponse, 0, len(vendors))
			for _, vendor := range vendors {
				responses = append(responses, projectVendor(vendor, locked.IsReadOnly(vendor.ID)))
			}
			writeJSON(w, http.StatusOK, responses)
		case http.MethodPost:
			var payload vendorRequest
			if !decodeJSON(w, r, &payload) {
				return
			}
			vendor, err := services.CreateVendor(ctx, userID, payload.input())
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, projectVendor(vendor, false))
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		vendor, err := services.GetVendor(ctx, userID, vendorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		locked, err := readOnlyStatus(r, userID, quota.Vendors)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectVendor(vendor, locked.IsReadOnly(vendor.ID)))
	case http.MethodPut:
		var payload vendorRequest
		if !decodeJSON(w, r, &payload) {
			return
		}
		vendor, err := services.UpdateVendor(ctx, userID, vendorID, payload.input())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectVendor(vendor, false))
	case http.MethodDelete:
		if err := services.DeleteVendor(ctx, userID, vendorID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// CategoryResource handles REST-style interactions for material categories.
func CategoryResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	categoryID, action, ok := resourcePath(r, "/app/api/categories")
	if !ok || action != "" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	if categoryID == 0 {
		switch r.Method {
		case http.MethodGet:
			categories, err := services.ListCategories(ctx, userID)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			locked, err := readOnlyStatus(r, userID, quota.Categories)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			responses := make([]categoryResponse, 0, len(categories))
			for _, category := range categories {
				responses = append(responses, projectCategory(category, locked.IsReadOnly(category.ID)))
			}
			writeJSON(w, http.StatusOK, responses)
		case http.MethodPost:
			var payload categoryRequest
			if !decodeJSON(w, r, &payload) {
				return
			}
			category, err := services.CreateCategory(ctx, userID, service.CategoryInput{Name: payload.Name, Description: payload.Description})
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, projectCategory(category, false))
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		category, err := services.GetCategory(ctx, userID, categoryID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		locked, err := readOnlyStatus(r, userID, quota.Categories)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectCategory(category, locked.IsReadOnly(category.ID)))
	case http.MethodPut:
		var payload categoryRequest
		if !decodeJSON(w, r, &payload) {
			return
		}
		category, err := services.UpdateCategory(ctx, userID, categoryID, service.CategoryInput{Name: payload.Name, Description: payload.Description})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectCategory(category, false))
	case http.MethodDelete:
		if err := services.DeleteCategory(ctx, userID, categoryID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func projectVendor(vendor models.Vendor, readOnly bool) vendorResponse {
	return vendorResponse{
		ID:           vendor.ID,
		Name:         vendor.Name,
		ContactEmail: vendor.ContactEmail,
		Phone:        vendor.Phone,
		Website:      vendor.Website,
		Notes:        vendor.Notes,
		ReadOnly:     readOnly,
		CreatedAt:    vendor.CreatedAt,
		UpdatedAt:    vendor.UpdatedAt,
	}
}

func projectCategory(category models.MaterialCategory, readOnly bool) categoryResponse {
	return categoryResponse{
		ID:          category.ID,
		Name:        category.Name,
		Description: category.Description,
		ReadOnly:    readOnly,
		CreatedAt:   category.CreatedAt,
		UpdatedAt:   category.UpdatedAt,
	}
}

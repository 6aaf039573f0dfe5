package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	applog "makercalc/internal/log"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxPriceSheetSize = 5 << 20
)

// Export streams a workbook of the user's materials or formulations.
func Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	var render func(context.Context, uint) ([]byte, error)
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/app/api/export"), "/")
	switch name {
	case "materials.xlsx":
		render = services.ExportMaterials
	case "formulations.xlsx":
		render = services.ExportFormulations
	default:
		http.NotFound(w, r)
		return
	}

	data, err := render(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		applog.Error(r.Context(), "failed to write export", "error", err, "file", name)
	}
}

// ImportPrices applies a price sheet to the user's materials. The body is
// either the raw workbook or a multipart form with a "file" field.
func ImportPrices(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPriceSheetSize)
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxPriceSheetSize); err != nil {
			writeUploadError(w, r, err)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		body = file
	}

	report, err := services.ImportPrices(r.Context(), userID, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeUploadError(w, r, err)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}
	applog.Debug(r.Context(), "failed to parse upload", "error", err)
	writeJSONError(w, http.StatusBadRequest, "invalid multipart upload")
}

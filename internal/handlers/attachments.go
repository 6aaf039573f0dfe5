package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	applog "makercalc/internal/log"
	"makercalc/internal/quota"
	"makercalc/internal/service"
	"makercalc/models"
)

const defaultUploadLimit = 10 << 20

var uploadLimit int64 = defaultUploadLimit

// SetUploadLimit caps the request body of attachment uploads. Non-positive
// values restore the default.
func SetUploadLimit(n int64) {
	if n <= 0 {
		n = defaultUploadLimit
	}
	uploadLimit = n
}

type attachmentResponse struct {
	ID            uint      `json:"id"`
	EntityType    string    `json:"entity_type"`
	EntityID      uint      `json:"entity_id"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	SizeBytes     int64     `json:"size_bytes"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	ReadOnly      bool      `json:"read_only"`
	CreatedAt     time.Time `json:"created_at"`
}

// AttachmentResource handles uploads, listings, downloads and removal of
// files attached to materials, formulations and vendors.
func AttachmentResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(w, r)
	if !ok {
		return
	}
	attachmentID, action, ok := resourcePath(r, "/app/api/attachments")
	if !ok {
		http.NotFound(w, r)
		return
	}

	if attachmentID == 0 {
		switch r.Method {
		case http.MethodGet:
			listAttachments(w, r, userID)
		case http.MethodPost:
			uploadAttachment(w, r, userID)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	switch action {
	case "":
	case "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		downloadAttachment(w, r, attachmentID, userID)
		return
	default:
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		attachment, err := services.GetAttachment(r.Context(), userID, attachmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		locked, err := readOnlyStatus(r, userID, quota.FileAttachments)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectAttachment(attachment, locked.IsReadOnly(attachment.ID)))
	case http.MethodDelete:
		if err := services.DeleteAttachment(r.Context(), userID, attachmentID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func listAttachments(w http.ResponseWriter, r *http.Request, userID uint) {
	entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
	entityID, ok := queryUint(r, "entity_id")
	if entityType == "" || !ok || entityID == nil {
		writeJSONError(w, http.StatusBadRequest, "entity_type and entity_id are required")
		return
	}
	attachments, err := services.ListAttachments(r.Context(), userID, entityType, *entityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	locked, err := readOnlyStatus(r, userID, quota.FileAttachments)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	responses := make([]attachmentResponse, 0, len(attachments))
	for _, attachment := range attachments {
		responses = append(responses, projectAttachment(attachment, locked.IsReadOnly(attachment.ID)))
	}
	writeJSON(w, http.StatusOK, responses)
}

func uploadAttachment(w http.ResponseWriter, r *http.Request, userID uint) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, uploadLimit)
	if err := r.ParseMultipartForm(uploadLimit); err != nil {
		writeUploadError(w, r, err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	entityID, err := strconv.ParseUint(strings.TrimSpace(r.FormValue("entity_id")), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "entity_id must be a number")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	contentType := ""
	if declared := header.Header.Get("Content-Type"); declared != "" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil && parsed != "application/octet-stream" {
			contentType = parsed
		}
	}

	attachment, err := services.UploadAttachment(ctx, userID, service.Upload{
		EntityType:  strings.TrimSpace(r.FormValue("entity_type")),
		EntityID:    uint(entityID),
		FileName:    header.Filename,
		ContentType: contentType,
		Content:     file,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectAttachment(attachment, false))
}

func downloadAttachment(w http.ResponseWriter, r *http.Request, attachmentID, userID uint) {
	attachment, content, err := services.OpenAttachment(r.Context(), userID, attachmentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", attachment.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(attachment.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content); err != nil {
		applog.Error(r.Context(), "failed to stream attachment", "error", err, "id", attachmentID)
	}
}

func projectAttachment(attachment models.Attachment, readOnly bool) attachmentResponse {
	return attachmentResponse{
		ID:            attachment.ID,
		EntityType:    attachment.EntityType,
		EntityID:      attachment.EntityID,
		FileName:      attachment.FileName,
		ContentType:   attachment.ContentType,
		SizeBytes:     attachment.SizeBytes,
		ExtractedText: attachment.ExtractedText,
		ReadOnly:      readOnly,
		CreatedAt:     attachment.CreatedAt,
	}
}

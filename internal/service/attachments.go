package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"makercalc/internal/apperr"
	applog "makercalc/internal/log"
	"makercalc/internal/quota"
	"makercalc/internal/storage"
	"makercalc/models"
)

// ErrStorageUnavailable is returned by attachment operations when no blob
// store is configured.
var ErrStorageUnavailable = errors.New("attachment storage is not configured")

// Upload is a file to attach to a material, formulation or vendor.
type Upload struct {
	EntityType  string
	EntityID    uint
	FileName    string
	ContentType string
	Content     io.Reader
}

func checkEntity(tx *gorm.DB, userID uint, entityType string, entityID uint) error {
	var err error
	switch entityType {
	case models.AttachmentMaterial:
		_, err = firstOwned[models.RawMaterial](tx, userID, entityID, "material")
	case models.AttachmentFormulation:
		_, err = firstOwned[models.Formulation](tx, userID, entityID, "formulation")
	case models.AttachmentVendor:
		_, err = firstOwned[models.Vendor](tx, userID, entityID, "vendor")
	default:
		return apperr.Validation("entity_type", "must be one of material, formulation or vendor, got %q", entityType)
	}
	return err
}

// UploadAttachment stores a file and records it against its entity. Both the
// attachment count and the storage byte limit of the plan are enforced.
func (s *Service) UploadAttachment(ctx context.Context, userID uint, up Upload) (models.Attachment, error) {
	if s.store == nil {
		return models.Attachment{}, ErrStorageUnavailable
	}
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return models.Attachment{}, apperr.Validation("file_name", "is required")
	}
	if up.Content == nil {
		return models.Attachment{}, apperr.Validation("file", "is required")
	}

	data, err := io.ReadAll(up.Content)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return models.Attachment{}, apperr.Validation("file", "must not be empty")
	}
	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeFromName(name)
	}

	text, err := storage.ExtractText(data, contentType)
	if err != nil {
		applog.Warn(ctx, "attachment text extraction failed", "file", name, "error", err)
		text = ""
	}

	attachment := models.Attachment{
		OwnerID:       userID,
		EntityType:    strings.ToLower(strings.TrimSpace(up.EntityType)),
		EntityID:      up.EntityID,
		FileName:      name,
		ContentType:   contentType,
		SizeBytes:     int64(len(data)),
		StorageKey:    storage.NewKey(userID, name),
		ExtractedText: text,
	}

	stored := false
	err = s.guardedCreate(ctx, userID, quota.FileAttachments, func(tx *gorm.DB) error {
		if err := checkEntity(tx, userID, attachment.EntityType, attachment.EntityID); err != nil {
			return err
		}
		_, plan, err := s.planFor(tx, userID)
		if err != nil {
			return err
		}
		used, err := storageUsage(tx, userID)
		if err != nil {
			return err
		}
		if err := quota.CheckStorage(used, attachment.SizeBytes, plan.Limits().Limit(quota.Storage)); err != nil {
			s.metrics.QuotaDenied(string(quota.Storage))
			return err
		}

		if err := s.store.Put(ctx, attachment.StorageKey, bytes.NewReader(data), attachment.SizeBytes, contentType); err != nil {
			return fmt.Errorf("store attachment: %w", err)
		}
		stored = true

		if err := tx.Create(&attachment).Error; err != nil {
			return fmt.Errorf("create attachment: %w", err)
		}
		return record(tx, userID, models.AuditCreate, "attachment", attachment.ID, attachment.FileName, map[string]any{
			"entity_type": attachment.EntityType,
			"entity_id":   attachment.EntityID,
			"size_bytes":  attachment.SizeBytes,
		})
	})
	if err != nil {
		if stored {
			if delErr := s.store.Delete(context.WithoutCancel(ctx), attachment.StorageKey); delErr != nil {
				applog.Error(ctx, "failed to remove orphaned attachment blob", "key", attachment.StorageKey, "error", delErr)
			}
		}
		return models.Attachment{}, err
	}
	return attachment, nil
}

// ListAttachments returns the attachments of one entity, newest first.
func (s *Service) ListAttachments(ctx context.Context, userID uint, entityType string, entityID uint) ([]models.Attachment, error) {
	query := s.conn(ctx).Where("owner_id = ?", userID)
	if entityType != "" {
		query = query.Where("entity_type = ? AND entity_id = ?", entityType, entityID)
	}
	var attachments []models.Attachment
	if err := query.Order("created_at desc, id desc").Find(&attachments).Error; err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

func (s *Service) GetAttachment(ctx context.Context, userID, id uint) (models.Attachment, error) {
	return firstOwned[models.Attachment](s.conn(ctx), userID, id, "attachment")
}

// OpenAttachment returns the attachment record and a reader over its bytes.
// The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, userID, id uint) (models.Attachment, io.ReadCloser, error) {
	if s.store == nil {
		return models.Attachment{}, nil, ErrStorageUnavailable
	}
	attachment, err := s.GetAttachment(ctx, userID, id)
	if err != nil {
		return models.Attachment{}, nil, err
	}
	content, err := s.store.Get(ctx, attachment.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Attachment{}, nil, apperr.NotFound("attachment", id)
		}
		return models.Attachment{}, nil, err
	}
	return attachment, content, nil
}

// DeleteAttachment removes the record and then its bytes.
func (s *Service) DeleteAttachment(ctx context.Context, userID, id uint) error {
	if s.store == nil {
		return ErrStorageUnavailable
	}
	var attachment models.Attachment
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		attachment, err = firstOwned[models.Attachment](tx, userID, id, "attachment")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.FileAttachments, id); err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Storage, id); err != nil {
			return err
		}
		if err := tx.Delete(&models.Attachment{}, id).Error; err != nil {
			return fmt.Errorf("delete attachment %d: %w", id, err)
		}
		return record(tx, userID, models.AuditDelete, "attachment", id, attachment.FileName, nil)
	})
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, attachment.StorageKey); err != nil {
		applog.Error(ctx, "failed to remove attachment blob", "key", attachment.StorageKey, "error", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/quota"
	"makercalc/models"
)

// VendorInput is the writable state of a vendor.
type VendorInput struct {
	Name         string
	ContactEmail string
	Phone        string
	Website      string
	Notes        string
}

// CategoryInput is the writable state of a material category.
type CategoryInput struct {
	Name        string
	Description string
}

func findByName[T any](tx *gorm.DB, userID uint, name string) (T, bool, error) {
	var record T
	err := tx.Where("owner_id = ? AND LOWER(name) = ?", userID, strings.ToLower(strings.TrimSpace(name))).
		Order("id asc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record, false, nil
	}
	if err != nil {
		return record, false, err
	}
	return record, true, nil
}

// ensureUniqueName rejects name when another record of model already uses it.
func ensureUniqueName(tx *gorm.DB, model any, userID, exceptID uint, resource, name string) error {
	var count int64
	query := tx.Model(model).Where("owner_id = ? AND LOWER(name) = ?", userID, strings.ToLower(name))
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check %s name: %w", resource, err)
	}
	if count > 0 {
		return apperr.Validation("name", "a %s named %q already exists", resource, name)
	}
	return nil
}

func normalizeVendor(in VendorInput) (VendorInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ContactEmail = strings.ToLower(strings.TrimSpace(in.ContactEmail))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Website = strings.TrimSpace(in.Website)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Name == "" {
		return in, apperr.Validation("name", "is required")
	}
	if in.ContactEmail != "" {
		if _, err := mail.ParseAddress(in.ContactEmail); err != nil {
			return in, apperr.Validation("contact_email", "%q is not a valid email address", in.ContactEmail)
		}
	}
	return in, nil
}

func (s *Service) ListVendors(ctx context.Context, userID uint) ([]models.Vendor, error) {
	var vendors []models.Vendor
	if err := s.conn(ctx).Where("owner_id = ?", userID).Order("name asc, id asc").Find(&vendors).Error; err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	return vendors, nil
}

func (s *Service) GetVendor(ctx context.Context, userID, id uint) (models.Vendor, error) {
	return firstOwned[models.Vendor](s.conn(ctx), userID, id, "vendor")
}

func (s *Service) CreateVendor(ctx context.Context, userID uint, in VendorInput) (models.Vendor, error) {
	in, err := normalizeVendor(in)
	if err != nil {
		return models.Vendor{}, err
	}

	vendor := models.Vendor{
		OwnerID:      userID,
		Name:         in.Name,
		ContactEmail: in.ContactEmail,
		Phone:        in.Phone,
		Website:      in.Website,
		Notes:        in.Notes,
	}
	err = s.guardedCreate(ctx, userID, quota.Vendors, func(tx *gorm.DB) error {
		if err := ensureUniqueName(tx, &models.Vendor{}, userID, 0, "vendor", in.Name); err != nil {
			return err
		}
		if err := tx.Create(&vendor).Error; err != nil {
			return fmt.Errorf("create vendor: %w", err)
		}
		return record(tx, userID, models.AuditCreate, "vendor", vendor.ID, vendor.Name, nil)
	})
	if err != nil {
		return models.Vendor{}, err
	}
	return vendor, nil
}

func (s *Service) UpdateVendor(ctx context.Context, userID, id uint, in VendorInput) (models.Vendor, error) {
	in, err := normalizeVendor(in)
	if err != nil {
		return models.Vendor{}, err
	}

	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := firstOwned[models.Vendor](tx, userID, id, "vendor"); err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Vendors, id); err != nil {
			return err
		}
		if err := ensureUniqueName(tx, &models.Vendor{}, userID, id, "vendor", in.Name); err != nil {
			return err
		}
		if err := tx.Model(&models.Vendor{}).Where("id = ?", id).Updates(map[string]any{
			"name":          in.Name,
			"contact_email": in.ContactEmail,
			"phone":         in.Phone,
			"website":       in.Website,
			"notes":         in.Notes,
		}).Error; err != nil {
			return fmt.Errorf("update vendor %d: %w", id, err)
		}
		return record(tx, userID, models.AuditUpdate, "vendor", id, in.Name, nil)
	})
	if err != nil {
		return models.Vendor{}, err
	}
	return s.GetVendor(ctx, userID, id)
}

// DeleteVendor removes a vendor and clears it from the materials that named it.
func (s *Service) DeleteVendor(ctx context.Context, userID, id uint) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		vendor, err := firstOwned[models.Vendor](tx, userID, id, "vendor")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Vendors, id); err != nil {
			return err
		}
		if err := tx.Model(&models.RawMaterial{}).
			Where("owner_id = ? AND vendor_id = ?", userID, id).
			Update("vendor_id", nil).Error; err != nil {
			return fmt.Errorf("clear vendor references: %w", err)
		}
		if err := tx.Delete(&models.Vendor{}, id).Error; err != nil {
			return fmt.Errorf("delete vendor %d: %w", id, err)
		}
		return record(tx, userID, models.AuditDelete, "vendor", id, vendor.Name, nil)
	})
}

// FindVendorByName returns the vendor of userID named name, ignoring case.
func (s *Service) FindVendorByName(ctx context.Context, userID uint, name string) (models.Vendor, bool, error) {
	return findByName[models.Vendor](s.conn(ctx), userID, name)
}

func (s *Service) ListCategories(ctx context.Context, userID uint) ([]models.MaterialCategory, error) {
	var categories []models.MaterialCategory
	if err := s.conn(ctx).Where("owner_id = ?", userID).Order("name asc, id asc").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *Service) GetCategory(ctx context.Context, userID, id uint) (models.MaterialCategory, error) {
	return firstOwned[models.MaterialCategory](s.conn(ctx), userID, id, "category")
}

func (s *Service) CreateCategory(ctx context.Context, userID uint, in CategoryInput) (models.MaterialCategory, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.MaterialCategory{}, apperr.Validation("name", "is required")
	}

	category := models.MaterialCategory{OwnerID: userID, Name: name, Description: strings.TrimSpace(in.Description)}
	err := s.guardedCreate(ctx, userID, quota.Categories, func(tx *gorm.DB) error {
		if err := ensureUniqueName(tx, &models.MaterialCategory{}, userID, 0, "category", name); err != nil {
			return err
		}
		if err := tx.Create(&category).Error; err != nil {
			return fmt.Errorf("create category: %w", err)
		}
		return record(tx, userID, models.AuditCreate, "category", category.ID, category.Name, nil)
	})
	if err != nil {
		return models.MaterialCategory{}, err
	}
	return category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, userID, id uint, in CategoryInput) (models.MaterialCategory, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.MaterialCategory{}, apperr.Validation("name", "is required")
	}

	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := firstOwned[models.MaterialCategory](tx, userID, id, "category"); err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Categories, id); err != nil {
			return err
		}
		if err := ensureUniqueName(tx, &models.MaterialCategory{}, userID, id, "category", name); err != nil {
			return err
		}
		if err := tx.Model(&models.MaterialCategory{}).Where("id = ?", id).Updates(map[string]any{
			"name":        name,
			"description": strings.TrimSpace(in.Description),
		}).Error; err != nil {
			return fmt.Errorf("update category %d: %w", id, err)
		}
		return record(tx, userID, models.AuditUpdate, "category", id, name, nil)
	})
	if err != nil {
		return models.MaterialCategory{}, err
	}
	return s.GetCategory(ctx, userID, id)
}

// DeleteCategory removes a category and clears it from its materials.
func (s *Service) DeleteCategory(ctx context.Context, userID, id uint) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		category, err := firstOwned[models.MaterialCategory](tx, userID, id, "category")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Categories, id); err != nil {
			return err
		}
		if err := tx.Model(&models.RawMaterial{}).
			Where("owner_id = ? AND category_id = ?", userID, id).
			Update("category_id", nil).Error; err != nil {
			return fmt.Errorf("clear category references: %w", err)
		}
		if err := tx.Delete(&models.MaterialCategory{}, id).Error; err != nil {
			return fmt.Errorf("delete category %d: %w", id, err)
		}
		return record(tx, userID, models.AuditDelete, "category", id, category.Name, nil)
	})
}

// FindCategoryByName returns the category of userID named name, ignoring case.
func (s *Service) FindCategoryByName(ctx context.Context, userID uint, name string) (models.MaterialCategory, bool, error) {
	return findByName[models.MaterialCategory](s.conn(ctx), userID, name)
}

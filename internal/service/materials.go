package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/costing"
	applog "makercalc/internal/log"
	"makercalc/internal/quota"
	"makercalc/models"
)

// MaterialInput is the writable state of a raw material.
type MaterialInput struct {
	Name       string
	SKU        string
	CategoryID *uint
	VendorID   *uint
	TotalCost  decimal.Decimal
	Quantity   decimal.Decimal
	Unit       string
	IsActive   *bool
	Notes      string
}

// MaterialFilter narrows ListMaterials. Zero fields do not filter.
type MaterialFilter struct {
	CategoryID *uint
	VendorID   *uint
	Active     *bool
	Search     string
}

func (s *Service) ListMaterials(ctx context.Context, userID uint, filter MaterialFilter) ([]models.RawMaterial, error) {
	query := s.conn(ctx).
		Preload("Category").
		Preload("Vendor").
		Where("owner_id = ?", userID)
	if filter.CategoryID != nil {
		query = query.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.VendorID != nil {
		query = query.Where("vendor_id = ?", *filter.VendorID)
	}
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", pattern, pattern)
	}

	var materials []models.RawMaterial
	if err := query.Order("name asc, id asc").Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return materials, nil
}

func (s *Service) GetMaterial(ctx context.Context, userID, id uint) (models.RawMaterial, error) {
	return firstOwned[models.RawMaterial](s.conn(ctx), userID, id, "material", "Category", "Vendor")
}

// normalizeMaterial validates in and derives the unit cost.
func normalizeMaterial(tx *gorm.DB, userID uint, in MaterialInput) (MaterialInput, decimal.Decimal, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.TrimSpace(in.SKU)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Name == "" {
		return in, decimal.Zero, apperr.Validation("name", "is required")
	}
	unit, err := costing.NormalizeUnit(in.Unit)
	if err != nil {
		return in, decimal.Zero, err
	}
	in.Unit = unit
	if err := costing.ValidateScale("total_cost", in.TotalCost); err != nil {
		return in, decimal.Zero, err
	}
	if err := costing.ValidateScale("quantity", in.Quantity); err != nil {
		return in, decimal.Zero, err
	}

	unitCost, err := costing.UnitCost(in.TotalCost, in.Quantity)
	if err != nil {
		return in, decimal.Zero, err
	}
	unitCost = unitCost.Round(costing.StoredPlaces)

	if in.CategoryID != nil {
		if *in.CategoryID == 0 {
			in.CategoryID = nil
		} else if _, err := firstOwned[models.MaterialCategory](tx, userID, *in.CategoryID, "category"); err != nil {
			return in, decimal.Zero, err
		}
	}
	if in.VendorID != nil {
		if *in.VendorID == 0 {
			in.VendorID = nil
		} else if _, err := firstOwned[models.Vendor](tx, userID, *in.VendorID, "vendor"); err != nil {
			return in, decimal.Zero, err
		}
	}
	return in, unitCost, nil
}

func (s *Service) CreateMaterial(ctx context.Context, userID uint, in MaterialInput) (models.RawMaterial, error) {
	var material models.RawMaterial
	err := s.guardedCreate(ctx, userID, quota.Materials, func(tx *gorm.DB) error {
		normalized, unitCost, err := normalizeMaterial(tx, userID, in)
		if err != nil {
			return err
		}
		material = models.RawMaterial{
			OwnerID:    userID,
			Name:       normalized.Name,
			SKU:        normalized.SKU,
			CategoryID: normalized.CategoryID,
			VendorID:   normalized.VendorID,
			TotalCost:  normalized.TotalCost,
			Quantity:   normalized.Quantity,
			Unit:       normalized.Unit,
			UnitCost:   unitCost,
			IsActive:   normalized.IsActive == nil || *normalized.IsActive,
			Notes:      normalized.Notes,
		}
		if err := tx.Create(&material).Error; err != nil {
			return fmt.Errorf("create material: %w", err)
		}
		return record(tx, userID, models.AuditCreate, "material", material.ID, material.Name, nil)
	})
	if err != nil {
		return models.RawMaterial{}, err
	}
	applog.Debug(ctx, "material created", "user", userID, "material", material.ID)
	return s.GetMaterial(ctx, userID, material.ID)
}

// UpdateMaterial rewrites a material and recomputes every formulation that
// uses it, directly or through sub-formulations.
func (s *Service) UpdateMaterial(ctx context.Context, userID, id uint, in MaterialInput) (models.RawMaterial, RefreshReport, error) {
	var report RefreshReport
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := firstOwned[models.RawMaterial](tx, userID, id, "material")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Materials, id); err != nil {
			return err
		}
		normalized, unitCost, err := normalizeMaterial(tx, userID, in)
		if err != nil {
			return err
		}
		if normalized.Unit != current.Unit {
			if err := ensureUnitUnused(tx, "unit", "material_id", id, normalized.Unit); err != nil {
				return err
			}
		}
		active := current.IsActive
		if normalized.IsActive != nil {
			active = *normalized.IsActive
		}

		if err := tx.Model(&models.RawMaterial{}).Where("id = ?", id).Updates(map[string]any{
			"name":        normalized.Name,
			"sku":         normalized.SKU,
			"category_id": normalized.CategoryID,
			"vendor_id":   normalized.VendorID,
			"total_cost":  normalized.TotalCost,
			"quantity":    normalized.Quantity,
			"unit":        normalized.Unit,
			"unit_cost":   unitCost,
			"is_active":   active,
			"notes":       normalized.Notes,
		}).Error; err != nil {
			return fmt.Errorf("update material %d: %w", id, err)
		}

		details := map[string]any{}
		if !sameDecimal(current.UnitCost, unitCost) {
			details["unit_cost_from"] = costing.DisplayUnitCost(current.UnitCost).String()
			details["unit_cost_to"] = costing.DisplayUnitCost(unitCost).String()
		}
		if err := record(tx, userID, models.AuditUpdate, "material", id, normalized.Name, details); err != nil {
			return err
		}

		report, err = s.recomputeFrom(tx, userID, nil, []uint{id})
		return err
	})
	if err != nil {
		return models.RawMaterial{}, RefreshReport{}, err
	}

	material, err := s.GetMaterial(ctx, userID, id)
	return material, report, err
}

// DeleteMaterial removes an unreferenced material.
func (s *Service) DeleteMaterial(ctx context.Context, userID, id uint) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		material, err := firstOwned[models.RawMaterial](tx, userID, id, "material")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Materials, id); err != nil {
			return err
		}

		var references int64
		if err := tx.Model(&models.FormulationIngredient{}).Where("material_id = ?", id).Count(&references).Error; err != nil {
			return fmt.Errorf("count material references: %w", err)
		}
		if references > 0 {
			return apperr.Validation("material", "%q is used by %d formulation ingredient(s); remove them first", material.Name, references)
		}

		if err := tx.Delete(&models.RawMaterial{}, id).Error; err != nil {
			return fmt.Errorf("delete material %d: %w", id, err)
		}
		return record(tx, userID, models.AuditDelete, "material", id, material.Name, nil)
	})
}

// DuplicateMaterial creates a copy named "<name> (Copy)".
func (s *Service) DuplicateMaterial(ctx context.Context, userID, id uint) (models.RawMaterial, error) {
	source, err := s.GetMaterial(ctx, userID, id)
	if err != nil {
		return models.RawMaterial{}, err
	}
	active := source.IsActive
	return s.CreateMaterial(ctx, userID, MaterialInput{
		Name:       copyName(source.Name),
		SKU:        source.SKU,
		CategoryID: source.CategoryID,
		VendorID:   source.VendorID,
		TotalCost:  source.TotalCost,
		Quantity:   source.Quantity,
		Unit:       source.Unit,
		IsActive:   &active,
		Notes:      source.Notes,
	})
}

// FindMaterialByName returns the material of userID named name, ignoring case.
func (s *Service) FindMaterialByName(ctx context.Context, userID uint, name string) (models.RawMaterial, bool, error) {
	return findByName[models.RawMaterial](s.conn(ctx), userID, name)
}

func copyName(name string) string {
	return strings.TrimSpace(name) + " (Copy)"
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/costing"
	"makercalc/internal/quota"
	"makercalc/models"
)

// IngredientInput is the writable state of a formulation ingredient. Nil
// IncludeInMarkup and SortOrder keep their current values, or the defaults
// on create.
type IngredientInput struct {
	FormulationID    uint
	MaterialID       *uint
	SubFormulationID *uint
	Quantity         decimal.Decimal
	Unit             string
	IncludeInMarkup  *bool
	SortOrder        *int
	Notes            string
}

// validateReference checks that the ingredient points at exactly one record
// userID owns, that its unit matches that record, and that a sub-formulation
// reference would not close a loop.
func (s *Service) validateReference(tx *gorm.DB, userID, formulationID uint, in IngredientInput) (IngredientInput, error) {
	if in.MaterialID != nil && *in.MaterialID == 0 {
		in.MaterialID = nil
	}
	if in.SubFormulationID != nil && *in.SubFormulationID == 0 {
		in.SubFormulationID = nil
	}
	if err := costing.ValidateIngredient(costing.IngredientInput{
		MaterialID:       in.MaterialID,
		SubFormulationID: in.SubFormulationID,
		Quantity:         in.Quantity,
	}); err != nil {
		return in, err
	}
	if err := costing.ValidateScale("quantity", in.Quantity); err != nil {
		return in, err
	}
	unit, err := costing.NormalizeUnit(in.Unit)
	if err != nil {
		return in, err
	}
	in.Unit = unit
	in.Notes = strings.TrimSpace(in.Notes)

	if in.MaterialID != nil {
		material, err := firstOwned[models.RawMaterial](tx, userID, *in.MaterialID, "material")
		if err != nil {
			return in, err
		}
		if material.Unit != unit {
			return in, apperr.Validation("unit", "%q is priced per %s, not %s", material.Name, material.Unit, unit)
		}
		return in, nil
	}

	sub, err := firstOwned[models.Formulation](tx, userID, *in.SubFormulationID, "formulation")
	if err != nil {
		return in, err
	}
	ws, err := loadWorkspace(tx, userID)
	if err != nil {
		return in, err
	}
	if err := ws.graph.WouldCreateCycle(formulationID, sub.ID); err != nil {
		return in, err
	}
	if sub.BatchUnit != unit {
		return in, apperr.Validation("unit", "sub-formulation %q is batched in %s, not %s", sub.Name, sub.BatchUnit, unit)
	}
	return in, nil
}

// AddIngredient appends an ingredient to a formulation and recomputes it
// along with its dependents.
func (s *Service) AddIngredient(ctx context.Context, userID uint, in IngredientInput) (models.FormulationIngredient, RefreshReport, error) {
	var (
		ingredient models.FormulationIngredient
		report     RefreshReport
	)
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		formulation, err := firstOwned[models.Formulation](tx, userID, in.FormulationID, "formulation")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Formulations, formulation.ID); err != nil {
			return err
		}
		normalized, err := s.validateReference(tx, userID, formulation.ID, in)
		if err != nil {
			return err
		}

		sortOrder := 0
		if normalized.SortOrder != nil {
			sortOrder = *normalized.SortOrder
		} else {
			var last int
			if err := tx.Model(&models.FormulationIngredient{}).
				Where("formulation_id = ?", formulation.ID).
				Select("COALESCE(MAX(sort_order), 0)").
				Scan(&last).Error; err != nil {
				return fmt.Errorf("find last sort order: %w", err)
			}
			sortOrder = last + 1
		}

		ingredient = models.FormulationIngredient{
			FormulationID:    formulation.ID,
			MaterialID:       normalized.MaterialID,
			SubFormulationID: normalized.SubFormulationID,
			Quantity:         normalized.Quantity,
			Unit:             normalized.Unit,
			IncludeInMarkup:  normalized.IncludeInMarkup == nil || *normalized.IncludeInMarkup,
			SortOrder:        sortOrder,
			Notes:            normalized.Notes,
		}
		if err := tx.Create(&ingredient).Error; err != nil {
			return fmt.Errorf("create ingredient: %w", err)
		}
		if err := record(tx, userID, models.AuditUpdate, "formulation", formulation.ID, formulation.Name, map[string]any{"ingredient_added": ingredient.ID}); err != nil {
			return err
		}

		report, err = s.recomputeFrom(tx, userID, []uint{formulation.ID}, nil)
		return err
	})
	if err != nil {
		return models.FormulationIngredient{}, RefreshReport{}, err
	}

	ingredient, err = s.GetIngredient(ctx, userID, ingredient.ID)
	return ingredient, report, err
}

// GetIngredient returns an ingredient of a formulation userID owns.
func (s *Service) GetIngredient(ctx context.Context, userID, id uint) (models.FormulationIngredient, error) {
	return ownedIngredient(s.conn(ctx).Preload("Material").Preload("SubFormulation"), userID, id)
}

func ownedIngredient(tx *gorm.DB, userID, id uint) (models.FormulationIngredient, error) {
	var ingredient models.FormulationIngredient
	err := tx.
		Joins("JOIN formulations ON formulations.id = formulation_ingredients.formulation_id AND formulations.deleted_at IS NULL").
		Where("formulation_ingredients.id = ? AND formulations.owner_id = ?", id, userID).
		First(&ingredient).Error
	if err != nil {
		return models.FormulationIngredient{}, notFound(err, "ingredient", id)
	}
	return ingredient, nil
}

// UpdateIngredient rewrites an ingredient. The owning formulation cannot change.
func (s *Service) UpdateIngredient(ctx context.Context, userID, id uint, in IngredientInput) (models.FormulationIngredient, RefreshReport, error) {
	var report RefreshReport
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := ownedIngredient(tx, userID, id)
		if err != nil {
			return err
		}
		if in.FormulationID != 0 && in.FormulationID != current.FormulationID {
			return apperr.Validation("formulation_id", "an ingredient cannot be moved to another formulation")
		}
		if err := s.ensureWritable(tx, userID, quota.Formulations, current.FormulationID); err != nil {
			return err
		}
		normalized, err := s.validateReference(tx, userID, current.FormulationID, in)
		if err != nil {
			return err
		}

		include := current.IncludeInMarkup
		if normalized.IncludeInMarkup != nil {
			include = *normalized.IncludeInMarkup
		}
		sortOrder := current.SortOrder
		if normalized.SortOrder != nil {
			sortOrder = *normalized.SortOrder
		}

		if err := tx.Model(&models.FormulationIngredient{}).Where("id = ?", id).Updates(map[string]any{
			"material_id":        normalized.MaterialID,
			"sub_formulation_id": normalized.SubFormulationID,
			"quantity":           normalized.Quantity,
			"unit":               normalized.Unit,
			"include_in_markup":  include,
			"sort_order":         sortOrder,
			"notes":              normalized.Notes,
		}).Error; err != nil {
			return fmt.Errorf("update ingredient %d: %w", id, err)
		}
		if err := record(tx, userID, models.AuditUpdate, "formulation", current.FormulationID, "", map[string]any{"ingredient_updated": id}); err != nil {
			return err
		}

		report, err = s.recomputeFrom(tx, userID, []uint{current.FormulationID}, nil)
		return err
	})
	if err != nil {
		return models.FormulationIngredient{}, RefreshReport{}, err
	}

	ingredient, err := s.GetIngredient(ctx, userID, id)
	return ingredient, report, err
}

// RemoveIngredient deletes an ingredient and recomputes its formulation.
func (s *Service) RemoveIngredient(ctx context.Context, userID, id uint) (RefreshReport, error) {
	var report RefreshReport
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := ownedIngredient(tx, userID, id)
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Formulations, current.FormulationID); err != nil {
			return err
		}
		if err := tx.Delete(&models.FormulationIngredient{}, id).Error; err != nil {
			return fmt.Errorf("delete ingredient %d: %w", id, err)
		}
		if err := record(tx, userID, models.AuditUpdate, "formulation", current.FormulationID, "", map[string]any{"ingredient_removed": id}); err != nil {
			return err
		}

		report, err = s.recomputeFrom(tx, userID, []uint{current.FormulationID}, nil)
		return err
	})
	return report, err
}

// ensureUnitUnused rejects a unit change on a material or sub-formulation
// while ingredient lines still reference it in another unit.
func ensureUnitUnused(tx *gorm.DB, field, column string, id uint, unit string) error {
	var lines int64
	if err := tx.Model(&models.FormulationIngredient{}).
		Where(column+" = ? AND unit <> ?", id, unit).
		Count(&lines).Error; err != nil {
		return fmt.Errorf("count ingredient lines for %s %d: %w", column, id, err)
	}
	if lines > 0 {
		return apperr.Validation(field, "cannot change to %s while %d ingredient lines use another unit", unit, lines)
	}
	return nil
}

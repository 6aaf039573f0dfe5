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

// FormulationInput is the writable state of a formulation. A nil
// MarkupPercentage keeps the current value, or the default on create.
type FormulationInput struct {
	Name             string
	Description      string
	BatchSize        decimal.Decimal
	BatchUnit        string
	TargetPrice      *decimal.Decimal
	MarkupPercentage *decimal.Decimal
}

// ScaledLine is one ingredient of a scaled formulation.
type ScaledLine struct {
	IngredientID     uint            `json:"ingredient_id"`
	Name             string          `json:"name"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit"`
	CostContribution decimal.Decimal `json:"cost_contribution"`
}

// ScaleReport describes a formulation resized to another batch size.
type ScaleReport struct {
	FormulationID uint            `json:"formulation_id"`
	FromBatch     decimal.Decimal `json:"from_batch"`
	ToBatch       decimal.Decimal `json:"to_batch"`
	BatchUnit     string          `json:"batch_unit"`
	Factor        decimal.Decimal `json:"factor"`
	Lines         []ScaledLine    `json:"lines"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
}

func normalizeFormulation(in FormulationInput, markup decimal.Decimal) (FormulationInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return in, apperr.Validation("name", "is required")
	}
	unit, err := costing.NormalizeUnit(in.BatchUnit)
	if err != nil {
		return in, apperr.Validation("batch_unit", "unsupported unit %q, expected one of %s", in.BatchUnit, strings.Join(costing.Units, ", "))
	}
	in.BatchUnit = unit
	if in.MarkupPercentage != nil {
		markup = *in.MarkupPercentage
	}
	in.MarkupPercentage = &markup
	if in.TargetPrice != nil && in.TargetPrice.IsNegative() {
		return in, apperr.Validation("target_price", "must not be negative")
	}
	if err := costing.ValidateScale("batch_size", in.BatchSize); err != nil {
		return in, err
	}
	if err := costing.ValidateScale("markup_percentage", markup); err != nil {
		return in, err
	}
	if in.TargetPrice != nil {
		if err := costing.ValidateScale("target_price", *in.TargetPrice); err != nil {
			return in, err
		}
	}
	if err := costing.ValidateFormulation(in.BatchSize, markup); err != nil {
		return in, err
	}
	return in, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func (s *Service) loadFormulation(tx *gorm.DB, userID, id uint) (models.Formulation, error) {
	var formulation models.Formulation
	err := tx.
		Preload("Ingredients", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order asc, id asc") }).
		Preload("Ingredients.Material").
		Preload("Ingredients.SubFormulation").
		Where("id = ? AND owner_id = ?", id, userID).
		First(&formulation).Error
	if err != nil {
		return models.Formulation{}, notFound(err, "formulation", id)
	}
	return formulation, nil
}

func (s *Service) ListFormulations(ctx context.Context, userID uint, includeArchived bool) ([]models.Formulation, error) {
	query := s.conn(ctx).Where("owner_id = ?", userID)
	if !includeArchived {
		query = query.Where("is_active = ?", true)
	}
	var formulations []models.Formulation
	if err := query.Order("name asc, id asc").Find(&formulations).Error; err != nil {
		return nil, fmt.Errorf("list formulations: %w", err)
	}
	return formulations, nil
}

// GetFormulation returns a formulation costed from the latest material
// prices. Derived fields that drifted are written back.
func (s *Service) GetFormulation(ctx context.Context, userID, id uint) (models.Formulation, error) {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := firstOwned[models.Formulation](tx, userID, id, "formulation"); err != nil {
			return err
		}
		ws, err := loadWorkspace(tx, userID)
		if err != nil {
			return err
		}
		report := newRefreshReport(userID)
		return s.apply(tx, ws, ws.evaluator(), []uint{id}, &report)
	})
	if err != nil {
		return models.Formulation{}, err
	}
	return s.loadFormulation(s.conn(ctx), userID, id)
}

func (s *Service) CreateFormulation(ctx context.Context, userID uint, in FormulationInput) (models.Formulation, error) {
	in, err := normalizeFormulation(in, costing.DefaultMarkupPercentage)
	if err != nil {
		return models.Formulation{}, err
	}

	formulation := models.Formulation{
		OwnerID:          userID,
		Name:             in.Name,
		Description:      in.Description,
		BatchSize:        in.BatchSize,
		BatchUnit:        in.BatchUnit,
		TargetPrice:      nullDecimal(in.TargetPrice),
		MarkupPercentage: *in.MarkupPercentage,
		IsActive:         true,
	}
	err = s.guardedCreate(ctx, userID, quota.Formulations, func(tx *gorm.DB) error {
		if err := tx.Create(&formulation).Error; err != nil {
			return fmt.Errorf("create formulation: %w", err)
		}
		if _, err := s.recomputeFrom(tx, userID, []uint{formulation.ID}, nil); err != nil {
			return err
		}
		return record(tx, userID, models.AuditCreate, "formulation", formulation.ID, formulation.Name, nil)
	})
	if err != nil {
		return models.Formulation{}, err
	}
	applog.Debug(ctx, "formulation created", "user", userID, "formulation", formulation.ID)
	return s.loadFormulation(s.conn(ctx), userID, formulation.ID)
}

// UpdateFormulation rewrites a formulation and recomputes it along with the
// formulations that use it as a sub-formulation.
func (s *Service) UpdateFormulation(ctx context.Context, userID, id uint, in FormulationInput) (models.Formulation, RefreshReport, error) {
	var report RefreshReport
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := firstOwned[models.Formulation](tx, userID, id, "formulation")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Formulations, id); err != nil {
			return err
		}
		normalized, err := normalizeFormulation(in, current.MarkupPercentage)
		if err != nil {
			return err
		}
		if normalized.BatchUnit != current.BatchUnit {
			if err := ensureUnitUnused(tx, "batch_unit", "sub_formulation_id", id, normalized.BatchUnit); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Formulation{}).Where("id = ?", id).Updates(map[string]any{
			"name":              normalized.Name,
			"description":       normalized.Description,
			"batch_size":        normalized.BatchSize,
			"batch_unit":        normalized.BatchUnit,
			"target_price":      nullDecimal(normalized.TargetPrice),
			"markup_percentage": *normalized.MarkupPercentage,
		}).Error; err != nil {
			return fmt.Errorf("update formulation %d: %w", id, err)
		}
		if err := record(tx, userID, models.AuditUpdate, "formulation", id, normalized.Name, nil); err != nil {
			return err
		}

		report, err = s.recomputeFrom(tx, userID, []uint{id}, nil)
		return err
	})
	if err != nil {
		return models.Formulation{}, RefreshReport{}, err
	}

	formulation, err := s.loadFormulation(s.conn(ctx), userID, id)
	return formulation, report, err
}

func (s *Service) ArchiveFormulation(ctx context.Context, userID, id uint) (models.Formulation, error) {
	return s.setFormulationActive(ctx, userID, id, false)
}

func (s *Service) RestoreFormulation(ctx context.Context, userID, id uint) (models.Formulation, error) {
	return s.setFormulationActive(ctx, userID, id, true)
}

func (s *Service) setFormulationActive(ctx context.Context, userID, id uint, active bool) (models.Formulation, error) {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		formulation, err := firstOwned[models.Formulation](tx, userID, id, "formulation")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Formulations, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Formulation{}).Where("id = ?", id).Update("is_active", active).Error; err != nil {
			return fmt.Errorf("update formulation %d: %w", id, err)
		}
		return record(tx, userID, models.AuditUpdate, "formulation", id, formulation.Name, map[string]any{"is_active": active})
	})
	if err != nil {
		return models.Formulation{}, err
	}
	return s.loadFormulation(s.conn(ctx), userID, id)
}

// DeleteFormulation removes a formulation that no other formulation uses.
func (s *Service) DeleteFormulation(ctx context.Context, userID, id uint) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		formulation, err := firstOwned[models.Formulation](tx, userID, id, "formulation")
		if err != nil {
			return err
		}
		if err := s.ensureWritable(tx, userID, quota.Formulations, id); err != nil {
			return err
		}

		var parents []uint
		if err := tx.Model(&models.FormulationIngredient{}).
			Where("sub_formulation_id = ? AND formulation_id <> ?", id, id).
			Distinct().
			Pluck("formulation_id", &parents).Error; err != nil {
			return fmt.Errorf("find parent formulations: %w", err)
		}
		if len(parents) > 0 {
			return apperr.Validation("formulation", "%q is used as a sub-formulation by %d formulation(s); remove those references first", formulation.Name, len(parents))
		}

		if err := tx.Where("formulation_id = ?", id).Delete(&models.FormulationIngredient{}).Error; err != nil {
			return fmt.Errorf("delete ingredients of formulation %d: %w", id, err)
		}
		if err := tx.Delete(&models.Formulation{}, id).Error; err != nil {
			return fmt.Errorf("delete formulation %d: %w", id, err)
		}
		return record(tx, userID, models.AuditDelete, "formulation", id, formulation.Name, nil)
	})
}

// DuplicateFormulation copies a formulation and its ingredients.
func (s *Service) DuplicateFormulation(ctx context.Context, userID, id uint) (models.Formulation, error) {
	var duplicate models.Formulation
	err := s.guardedCreate(ctx, userID, quota.Formulations, func(tx *gorm.DB) error {
		source, err := s.loadFormulation(tx, userID, id)
		if err != nil {
			return err
		}

		duplicate = models.Formulation{
			OwnerID:          userID,
			Name:             copyName(source.Name),
			Description:      source.Description,
			BatchSize:        source.BatchSize,
			BatchUnit:        source.BatchUnit,
			TargetPrice:      source.TargetPrice,
			MarkupPercentage: source.MarkupPercentage,
			IsActive:         true,
		}
		if err := tx.Create(&duplicate).Error; err != nil {
			return fmt.Errorf("create formulation copy: %w", err)
		}

		for _, ing := range source.Ingredients {
			sub := ing.SubFormulationID
			if sub != nil && *sub == source.ID {
				sub = &duplicate.ID
			}
			line := models.FormulationIngredient{
				FormulationID:    duplicate.ID,
				MaterialID:       ing.MaterialID,
				SubFormulationID: sub,
				Quantity:         ing.Quantity,
				Unit:             ing.Unit,
				IncludeInMarkup:  ing.IncludeInMarkup,
				SortOrder:        ing.SortOrder,
				Notes:            ing.Notes,
			}
			if err := tx.Create(&line).Error; err != nil {
				return fmt.Errorf("copy ingredient %d: %w", ing.ID, err)
			}
		}

		if _, err := s.recomputeFrom(tx, userID, []uint{duplicate.ID}, nil); err != nil {
			return err
		}
		return record(tx, userID, models.AuditCreate, "formulation", duplicate.ID, duplicate.Name, map[string]any{"duplicated_from": source.ID})
	})
	if err != nil {
		return models.Formulation{}, err
	}
	return s.loadFormulation(s.conn(ctx), userID, duplicate.ID)
}

// ScaleFormulation reports ingredient quantities and costs for a different
// batch size. Nothing is persisted.
func (s *Service) ScaleFormulation(ctx context.Context, userID, id uint, targetBatch decimal.Decimal) (ScaleReport, error) {
	if !targetBatch.IsPositive() {
		return ScaleReport{}, apperr.Validation("batch_size", "must be greater than zero, got %s", targetBatch.String())
	}

	db := s.conn(ctx)
	formulation, err := s.loadFormulation(db, userID, id)
	if err != nil {
		return ScaleReport{}, err
	}
	ws, err := loadWorkspace(db, userID)
	if err != nil {
		return ScaleReport{}, err
	}
	breakdown, err := ws.evaluator().Evaluate(id)
	if err != nil {
		return ScaleReport{}, err
	}

	factor := targetBatch.Div(formulation.BatchSize)
	report := ScaleReport{
		FormulationID: id,
		FromBatch:     formulation.BatchSize,
		ToBatch:       targetBatch,
		BatchUnit:     formulation.BatchUnit,
		Factor:        factor.Round(costing.CostPlaces),
		Lines:         make([]ScaledLine, 0, len(formulation.Ingredients)),
		TotalCost:     breakdown.TotalCost.Mul(factor).Round(costing.CostPlaces),
		UnitCost:      breakdown.UnitCost.Round(costing.CostPlaces),
	}
	for _, ing := range formulation.Ingredients {
		contribution, _ := breakdown.Contribution(ing.ID)
		report.Lines = append(report.Lines, ScaledLine{
			IngredientID:     ing.ID,
			Name:             ingredientName(ing),
			Quantity:         ing.Quantity.Mul(factor).Round(costing.CostPlaces),
			Unit:             ing.Unit,
			CostContribution: contribution.Mul(factor).Round(costing.CostPlaces),
		})
	}
	return report, nil
}

func ingredientName(ing models.FormulationIngredient) string {
	switch {
	case ing.Material != nil:
		return ing.Material.Name
	case ing.SubFormulation != nil:
		return ing.SubFormulation.Name
	default:
		return ""
	}
}

package service

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/costing"
	"makercalc/internal/export"
	"makercalc/internal/quota"
	"makercalc/models"
)

// ImportReport summarises a price sheet import.
type ImportReport struct {
	Updated   []uint         `json:"updated"`
	Unchanged []uint         `json:"unchanged"`
	Skipped   map[int]string `json:"skipped"`
	Refresh   RefreshReport  `json:"refresh"`
}

// ExportMaterials renders every material of userID as a workbook.
func (s *Service) ExportMaterials(ctx context.Context, userID uint) ([]byte, error) {
	materials, err := s.ListMaterials(ctx, userID, MaterialFilter{})
	if err != nil {
		return nil, err
	}
	rows := make([]export.MaterialRow, 0, len(materials))
	for _, m := range materials {
		row := export.MaterialRow{
			ID:        m.ID,
			Name:      m.Name,
			SKU:       m.SKU,
			TotalCost: m.TotalCost,
			Quantity:  m.Quantity,
			Unit:      m.Unit,
			UnitCost:  costing.DisplayUnitCost(m.UnitCost),
			Active:    m.IsActive,
		}
		if m.Category != nil {
			row.Category = m.Category.Name
		}
		if m.Vendor != nil {
			row.Vendor = m.Vendor.Name
		}
		rows = append(rows, row)
	}
	return export.MaterialsWorkbook(rows)
}

// ExportFormulations renders every formulation of userID, costed from the
// latest material prices, as a workbook.
func (s *Service) ExportFormulations(ctx context.Context, userID uint) ([]byte, error) {
	ws, err := loadWorkspace(s.conn(ctx), userID)
	if err != nil {
		return nil, err
	}
	eval := ws.evaluator()

	ids := make([]uint, 0, len(ws.formulations))
	for id := range ws.formulations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ws.formulations[ids[i]], ws.formulations[ids[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	rows := make([]export.FormulationRow, 0, len(ids))
	for _, id := range ids {
		f := ws.formulations[id]
		row := export.FormulationRow{
			ID:               f.ID,
			Name:             f.Name,
			BatchSize:        f.BatchSize,
			BatchUnit:        f.BatchUnit,
			MarkupPercentage: f.MarkupPercentage,
		}
		if f.TargetPrice.Valid {
			target := f.TargetPrice.Decimal
			row.TargetPrice = &target
		}

		breakdown, err := eval.Evaluate(id)
		if err != nil {
			row.CostError = err.Error()
		} else {
			rounded := breakdown.Rounded()
			row.TotalCost = rounded.TotalCost
			row.UnitCost = rounded.UnitCost
			row.MarkupEligibleCost = rounded.MarkupEligibleCost
			row.SuggestedPrice = rounded.SuggestedPrice
			row.ProfitMargin = rounded.ProfitMargin
		}

		for _, ing := range f.Ingredients {
			line := export.IngredientRow{
				Quantity:        ing.Quantity,
				Unit:            ing.Unit,
				IncludeInMarkup: ing.IncludeInMarkup,
			}
			if ing.MaterialID != nil {
				line.Kind = "material"
				line.Ingredient = ws.materials[*ing.MaterialID].Name
			} else if ing.SubFormulationID != nil {
				line.Kind = "sub-formulation"
				line.Ingredient = ws.formulations[*ing.SubFormulationID].Name
			}
			if err == nil {
				contribution, _ := breakdown.Contribution(ing.ID)
				line.CostContribution = contribution.Round(costing.CostPlaces)
			}
			row.Ingredients = append(row.Ingredients, line)
		}
		rows = append(rows, row)
	}
	return export.FormulationsWorkbook(rows)
}

// ImportPrices applies the total costs of a price sheet to the materials of
// userID. Rows naming unknown or read-only materials are skipped and
// reported; dependent formulations are recomputed once at the end.
func (s *Service) ImportPrices(ctx context.Context, userID uint, r io.Reader) (ImportReport, error) {
	updates, err := export.ParsePriceSheet(r)
	if err != nil {
		return ImportReport{}, err
	}

	report := ImportReport{Updated: []uint{}, Unchanged: []uint{}, Skipped: map[int]string{}}
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		changed := make([]uint, 0, len(updates))
		for _, update := range updates {
			material, err := firstOwned[models.RawMaterial](tx, userID, update.MaterialID, "material")
			if err != nil {
				if apperr.IsNotFound(err) {
					report.Skipped[update.Row] = err.Error()
					continue
				}
				return err
			}
			if err := s.ensureWritable(tx, userID, quota.Materials, material.ID); err != nil {
				report.Skipped[update.Row] = err.Error()
				continue
			}
			if material.TotalCost.Equal(update.TotalCost) {
				report.Unchanged = append(report.Unchanged, material.ID)
				continue
			}

			if err := costing.ValidateScale("total_cost", update.TotalCost); err != nil {
				report.Skipped[update.Row] = err.Error()
				continue
			}
			unitCost, err := costing.UnitCost(update.TotalCost, material.Quantity)
			if err != nil {
				report.Skipped[update.Row] = err.Error()
				continue
			}
			unitCost = unitCost.Round(costing.StoredPlaces)
			if err := tx.Model(&models.RawMaterial{}).Where("id = ?", material.ID).Updates(map[string]any{
				"total_cost": update.TotalCost,
				"unit_cost":  unitCost,
			}).Error; err != nil {
				return fmt.Errorf("update material %d: %w", material.ID, err)
			}
			changed = append(changed, material.ID)
		}
		report.Updated = changed

		if err := record(tx, userID, models.AuditImport, "material", 0, "price sheet", map[string]any{
			"updated": len(report.Updated),
			"skipped": len(report.Skipped),
		}); err != nil {
			return err
		}

		refresh, err := s.recomputeFrom(tx, userID, nil, changed)
		report.Refresh = refresh
		return err
	})
	if err != nil {
		return ImportReport{}, err
	}
	return report, nil
}

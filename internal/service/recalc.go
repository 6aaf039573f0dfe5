package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/costing"
	applog "makercalc/internal/log"
	"makercalc/models"
)

// comparePlaces is the precision at which persisted and recomputed values
// are considered equal. It matches the scale of the derived cost columns.
const comparePlaces = costing.StoredPlaces

// RefreshReport summarises one cost refresh pass.
type RefreshReport struct {
	UserID    uint            `json:"user_id"`
	Updated   []uint          `json:"updated"`
	Unchanged []uint          `json:"unchanged"`
	Failed    map[uint]string `json:"failed"`
}

func newRefreshReport(userID uint) RefreshReport {
	return RefreshReport{UserID: userID, Updated: []uint{}, Unchanged: []uint{}, Failed: map[uint]string{}}
}

// workspace is every costing relevant record of one user.
type workspace struct {
	materials    map[uint]models.RawMaterial
	formulations map[uint]models.Formulation
	inputs       map[uint]costing.FormulationInput
	graph        *costing.Graph
}

func loadWorkspace(tx *gorm.DB, userID uint) (*workspace, error) {
	var materials []models.RawMaterial
	if err := tx.Where("owner_id = ?", userID).Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("load materials: %w", err)
	}
	var formulations []models.Formulation
	if err := tx.Where("owner_id = ?", userID).
		Preload("Ingredients", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order asc, id asc") }).
		Find(&formulations).Error; err != nil {
		return nil, fmt.Errorf("load formulations: %w", err)
	}

	ws := &workspace{
		materials:    make(map[uint]models.RawMaterial, len(materials)),
		formulations: make(map[uint]models.Formulation, len(formulations)),
		inputs:       make(map[uint]costing.FormulationInput, len(formulations)),
	}
	for _, m := range materials {
		ws.materials[m.ID] = m
	}
	for _, f := range formulations {
		ws.formulations[f.ID] = f
		ws.inputs[f.ID] = formulationInput(f)
	}
	ws.graph = costing.BuildGraph(ws.inputs)
	return ws, nil
}

func formulationInput(f models.Formulation) costing.FormulationInput {
	in := costing.FormulationInput{
		ID:               f.ID,
		BatchSize:        f.BatchSize,
		BatchUnit:        f.BatchUnit,
		MarkupPercentage: f.MarkupPercentage,
		Ingredients:      make([]costing.IngredientInput, 0, len(f.Ingredients)),
	}
	if f.TargetPrice.Valid {
		target := f.TargetPrice.Decimal
		in.TargetPrice = &target
	}
	for _, ing := range f.Ingredients {
		in.Ingredients = append(in.Ingredients, costing.IngredientInput{
			ID:               ing.ID,
			MaterialID:       ing.MaterialID,
			SubFormulationID: ing.SubFormulationID,
			Quantity:         ing.Quantity,
			Unit:             ing.Unit,
			IncludeInMarkup:  ing.IncludeInMarkup,
		})
	}
	return in
}

// Material resolves the unit cost of a raw material from its persisted total
// cost and quantity.
func (ws *workspace) Material(id uint) (costing.Source, error) {
	m, ok := ws.materials[id]
	if !ok {
		return costing.Source{}, apperr.NotFound("material", id)
	}
	unitCost, err := costing.UnitCost(m.TotalCost, m.Quantity)
	if err != nil {
		return costing.Source{}, fmt.Errorf("material %d: %w", id, err)
	}
	return costing.Source{UnitCost: unitCost, Unit: m.Unit}, nil
}

func (ws *workspace) evaluator() *costing.Evaluator {
	return costing.NewEvaluator(ws.inputs, ws)
}

// refreshOrder returns every formulation in recompute order, with members of
// reference loops last.
func (ws *workspace) refreshOrder() []uint {
	order, blocked := ws.graph.TopologicalOrder()
	return append(order, blocked...)
}

func sameDecimal(a, b decimal.Decimal) bool {
	return a.Round(comparePlaces).Equal(b.Round(comparePlaces))
}

func costsChanged(f models.Formulation, b costing.Breakdown) bool {
	if f.CostError != "" || f.CostsRefreshedAt == nil {
		return true
	}
	if !sameDecimal(f.TotalCost, b.TotalCost) ||
		!sameDecimal(f.UnitCost, b.UnitCost) ||
		!sameDecimal(f.MarkupEligibleCost, b.MarkupEligibleCost) ||
		!sameDecimal(f.SuggestedPrice, b.SuggestedPrice) ||
		!sameDecimal(f.ProfitMargin, b.ProfitMargin) {
		return true
	}
	for _, ing := range f.Ingredients {
		contribution, _ := b.Contribution(ing.ID)
		if !sameDecimal(ing.CostContribution, contribution) {
			return true
		}
	}
	return false
}

// apply recomputes ids in order and persists what changed. A formulation that
// fails keeps its previous costs and only records the failure.
func (s *Service) apply(tx *gorm.DB, ws *workspace, eval *costing.Evaluator, ids []uint, report *RefreshReport) error {
	now := s.now()
	for _, id := range ids {
		f := ws.formulations[id]
		b, err := eval.Evaluate(id)
		if err != nil {
			report.Failed[id] = err.Error()
			s.metrics.Recomputed("failed")
			if f.CostError != err.Error() {
				if err := tx.Model(&models.Formulation{}).Where("id = ?", id).Update("cost_error", err.Error()).Error; err != nil {
					return fmt.Errorf("record cost error for formulation %d: %w", id, err)
				}
				f.CostError = err.Error()
				ws.formulations[id] = f
			}
			continue
		}
		b = b.Stored()

		if !costsChanged(f, b) {
			report.Unchanged = append(report.Unchanged, id)
			s.metrics.Recomputed("unchanged")
			continue
		}

		if err := tx.Model(&models.Formulation{}).Where("id = ?", id).Updates(map[string]any{
			"total_cost":           b.TotalCost,
			"unit_cost":            b.UnitCost,
			"markup_eligible_cost": b.MarkupEligibleCost,
			"suggested_price":      b.SuggestedPrice,
			"profit_margin":        b.ProfitMargin,
			"cost_error":           "",
			"costs_refreshed_at":   now,
		}).Error; err != nil {
			return fmt.Errorf("persist costs for formulation %d: %w", id, err)
		}
		for i, ing := range f.Ingredients {
			contribution, _ := b.Contribution(ing.ID)
			if sameDecimal(ing.CostContribution, contribution) {
				continue
			}
			if err := tx.Model(&models.FormulationIngredient{}).Where("id = ?", ing.ID).Update("cost_contribution", contribution).Error; err != nil {
				return fmt.Errorf("persist contribution for ingredient %d: %w", ing.ID, err)
			}
			f.Ingredients[i].CostContribution = contribution
		}

		f.TotalCost, f.UnitCost, f.MarkupEligibleCost = b.TotalCost, b.UnitCost, b.MarkupEligibleCost
		f.SuggestedPrice, f.ProfitMargin, f.CostError = b.SuggestedPrice, b.ProfitMargin, ""
		f.CostsRefreshedAt = &now
		ws.formulations[id] = f

		report.Updated = append(report.Updated, id)
		s.metrics.Recomputed("updated")
	}
	return nil
}

// recomputeFrom reloads the workspace and recomputes the given formulations
// and everything that depends on them.
func (s *Service) recomputeFrom(tx *gorm.DB, userID uint, formulationIDs []uint, materialIDs []uint) (RefreshReport, error) {
	report := newRefreshReport(userID)
	ws, err := loadWorkspace(tx, userID)
	if err != nil {
		return report, err
	}

	affected := make(map[uint]struct{})
	for _, id := range formulationIDs {
		for _, dep := range ws.graph.Affected(id) {
			affected[dep] = struct{}{}
		}
	}
	for _, id := range materialIDs {
		for _, dep := range ws.graph.DependentsOfMaterial(id) {
			affected[dep] = struct{}{}
		}
	}
	if len(affected) == 0 {
		return report, nil
	}

	ids := make([]uint, 0, len(affected))
	for _, id := range ws.refreshOrder() {
		if _, ok := affected[id]; ok {
			ids = append(ids, id)
		}
	}
	if err := s.apply(tx, ws, ws.evaluator(), ids, &report); err != nil {
		return report, err
	}
	if len(report.Failed) > 0 {
		applog.Warn(tx.Statement.Context, "dependent formulations failed to recompute", "user", userID, "failed", len(report.Failed))
	}
	return report, nil
}

// RecalculateFormulation recomputes one formulation and its dependents. When
// the formulation itself cannot be costed the failure is recorded on it and
// returned.
func (s *Service) RecalculateFormulation(ctx context.Context, userID, id uint) (models.Formulation, error) {
	var report RefreshReport
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := firstOwned[models.Formulation](tx, userID, id, "formulation"); err != nil {
			return err
		}
		var err error
		report, err = s.recomputeFrom(tx, userID, []uint{id}, nil)
		return err
	})
	if err != nil {
		return models.Formulation{}, err
	}

	formulation, err := s.loadFormulation(s.conn(ctx), userID, id)
	if err != nil {
		return models.Formulation{}, err
	}
	if _, failed := report.Failed[id]; failed {
		return formulation, s.costFailure(ctx, userID, id)
	}
	return formulation, nil
}

// costFailure re-evaluates id to return its typed failure.
func (s *Service) costFailure(ctx context.Context, userID, id uint) error {
	ws, err := loadWorkspace(s.conn(ctx), userID)
	if err != nil {
		return err
	}
	_, err = ws.evaluator().Evaluate(id)
	return err
}

// RefreshCosts recomputes every formulation of userID in dependency order.
func (s *Service) RefreshCosts(ctx context.Context, userID uint) (RefreshReport, error) {
	started := time.Now()
	report := newRefreshReport(userID)

	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		ws, err := loadWorkspace(tx, userID)
		if err != nil {
			return err
		}
		if err := s.apply(tx, ws, ws.evaluator(), ws.refreshOrder(), &report); err != nil {
			return err
		}
		return record(tx, userID, models.AuditRefresh, "formulation", 0, "", map[string]any{
			"updated":   len(report.Updated),
			"unchanged": len(report.Unchanged),
			"failed":    len(report.Failed),
		})
	})
	s.metrics.ObserveRefresh(time.Since(started))
	if err != nil {
		return newRefreshReport(userID), fmt.Errorf("refresh costs for user %d: %w", userID, err)
	}

	applog.Info(ctx, "refreshed formulation costs", "user", userID, "updated", len(report.Updated), "unchanged", len(report.Unchanged), "failed", len(report.Failed))
	return report, nil
}

// RefreshAllUsers runs RefreshCosts for every user with at most concurrency
// refreshes in flight. One user's failure does not stop the others; the
// failures are joined into the returned error.
func (s *Service) RefreshAllUsers(ctx context.Context, concurrency int) ([]RefreshReport, error) {
	var userIDs []uint
	if err := s.conn(ctx).Model(&models.User{}).Order("id asc").Pluck("id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	reports := make([]RefreshReport, len(userIDs))
	failures := make([]error, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := s.RefreshCosts(gctx, userID)
			reports[i] = report
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}

	sort.SliceStable(reports, func(i, j int) bool { return reports[i].UserID < reports[j].UserID })
	return reports, errors.Join(failures...)
}

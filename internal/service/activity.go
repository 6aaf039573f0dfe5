package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"makercalc/internal/quota"
	"makercalc/models"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 200
)

// Dashboard is the workspace overview of one user.
type Dashboard struct {
	Counts                 map[quota.Resource]int64 `json:"counts"`
	InventoryValue         decimal.Decimal          `json:"inventory_value"`
	AverageMargin          decimal.Decimal          `json:"average_margin"`
	FormulationsWithErrors int                      `json:"formulations_with_errors"`
	Tier                   models.PlanTier          `json:"tier"`
	SoftLocked             bool                     `json:"soft_locked"`
	RecentActivity         []models.AuditLogEntry   `json:"recent_activity"`
}

// record appends an audit entry in the caller's transaction.
func record(tx *gorm.DB, userID uint, action, entityType string, entityID uint, entityName string, details map[string]any) error {
	entry := models.AuditLogEntry{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		EntityName: entityName,
	}
	if len(details) > 0 {
		entry.Details = datatypes.JSONMap(details)
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("record %s %s: %w", action, entityType, err)
	}
	return nil
}

func (s *Service) RecentActivity(ctx context.Context, userID uint, limit int) ([]models.AuditLogEntry, error) {
	return recentActivity(s.conn(ctx), userID, limit)
}

func recentActivity(tx *gorm.DB, userID uint, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	var entries []models.AuditLogEntry
	if err := tx.Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	return entries, nil
}

// PurgeActivity deletes audit entries older than olderThan across all users
// and returns how many were removed.
func (s *Service) PurgeActivity(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", olderThan)
	}
	cutoff := s.now().Add(-olderThan)
	result := s.conn(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLogEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge activity: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DashboardSummary aggregates usage, inventory value and margins of userID.
func (s *Service) DashboardSummary(ctx context.Context, userID uint) (Dashboard, error) {
	db := s.conn(ctx)
	view, err := s.subscriptionView(db, userID)
	if err != nil {
		return Dashboard{}, err
	}

	summary := Dashboard{
		Counts:         make(map[quota.Resource]int64, len(quota.Resources)),
		InventoryValue: decimal.Zero,
		AverageMargin:  decimal.Zero,
		Tier:           view.Tier,
		SoftLocked:     view.Quota.SoftLocked,
	}
	for res, rs := range view.Quota.Resources {
		summary.Counts[res] = rs.Usage
	}

	var materials []models.RawMaterial
	if err := db.Select("id", "total_cost").Where("owner_id = ?", userID).Find(&materials).Error; err != nil {
		return Dashboard{}, fmt.Errorf("load inventory: %w", err)
	}
	for _, m := range materials {
		summary.InventoryValue = summary.InventoryValue.Add(m.TotalCost)
	}

	var formulations []models.Formulation
	if err := db.Select("id", "profit_margin", "cost_error", "markup_eligible_cost").
		Where("owner_id = ? AND is_active = ?", userID, true).
		Find(&formulations).Error; err != nil {
		return Dashboard{}, fmt.Errorf("load margins: %w", err)
	}
	costed := 0
	total := decimal.Zero
	for _, f := range formulations {
		if f.CostError != "" {
			summary.FormulationsWithErrors++
			continue
		}
		if !f.MarkupEligibleCost.IsPositive() {
			continue
		}
		total = total.Add(f.ProfitMargin)
		costed++
	}
	if costed > 0 {
		summary.AverageMargin = total.Div(decimal.NewFromInt(int64(costed))).Round(2)
	}

	summary.RecentActivity, err = recentActivity(db, userID, 10)
	if err != nil {
		return Dashboard{}, err
	}
	return summary, nil
}

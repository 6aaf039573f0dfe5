package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/plans"
	"makercalc/internal/quota"
	"makercalc/models"
)

// SubscriptionView is the plan of a user and the evaluated usage of every
// quota bound resource.
type SubscriptionView struct {
	Subscription models.Subscription `json:"-"`
	Tier         models.PlanTier     `json:"tier"`
	Status       string              `json:"status"`
	Entitled     bool                `json:"entitled"`
	Plan         plans.Plan          `json:"plan"`
	Quota        quota.Status        `json:"quota"`
}

// SubscriptionStatus evaluates the current usage of userID. The result is
// computed on every call.
func (s *Service) SubscriptionStatus(ctx context.Context, userID uint) (SubscriptionView, error) {
	return s.subscriptionView(s.conn(ctx), userID)
}

func (s *Service) subscriptionView(tx *gorm.DB, userID uint) (SubscriptionView, error) {
	sub, plan, err := s.planFor(tx, userID)
	if err != nil {
		return SubscriptionView{}, err
	}
	snap, err := snapshot(tx, userID)
	if err != nil {
		return SubscriptionView{}, err
	}
	return SubscriptionView{
		Subscription: sub,
		Tier:         sub.PlanTier,
		Status:       string(sub.Status),
		Entitled:     sub.Entitled(),
		Plan:         plan,
		Quota:        quota.Evaluate(plan.Limits(), snap),
	}, nil
}

// EnsureSubscription creates the free subscription of a new user.
func (s *Service) EnsureSubscription(ctx context.Context, userID uint) error {
	sub := models.Subscription{UserID: userID, PlanTier: models.PlanFree, Status: models.SubscriptionActive}
	err := s.conn(ctx).Where("user_id = ?", userID).FirstOrCreate(&sub).Error
	if err != nil {
		return fmt.Errorf("ensure subscription: %w", err)
	}
	return nil
}

// ChangePlan moves userID onto tier with an active status. Items beyond the
// new limits become read-only; nothing is removed.
func (s *Service) ChangePlan(ctx context.Context, userID uint, tier string) (SubscriptionView, error) {
	candidate := strings.ToLower(strings.TrimSpace(tier))
	if !models.ValidPlanTier(candidate) {
		return SubscriptionView{}, apperr.Validation("tier", "unknown plan tier %q", tier)
	}
	next := models.PlanTier(candidate)

	var view SubscriptionView
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Where("user_id = ?", userID).First(&sub).Error
		previous := models.PlanFree
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = models.Subscription{UserID: userID, PlanTier: next, Status: models.SubscriptionActive}
			if err := tx.Create(&sub).Error; err != nil {
				return fmt.Errorf("create subscription: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load subscription: %w", err)
		default:
			previous = sub.PlanTier
			if err := tx.Model(&sub).Updates(map[string]any{
				"plan_tier": next,
				"status":    models.SubscriptionActive,
			}).Error; err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
		}

		if err := record(tx, userID, models.AuditPlanChange, "subscription", sub.ID, string(next), map[string]any{
			"from": string(previous),
			"to":   string(next),
		}); err != nil {
			return err
		}

		view, err = s.subscriptionView(tx, userID)
		return err
	})
	if err != nil {
		return SubscriptionView{}, err
	}
	return view, nil
}

// EnsureWritable returns a ReadOnlyError when item id of res is soft locked.
func (s *Service) EnsureWritable(ctx context.Context, userID uint, res quota.Resource, id uint) error {
	return s.ensureWritable(s.conn(ctx), userID, res, id)
}

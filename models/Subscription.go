package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// PlanTier names a subscription plan.
type PlanTier string

const (
	PlanFree         PlanTier = "free"
	PlanStarter      PlanTier = "starter"
	PlanPro          PlanTier = "pro"
	PlanProfessional PlanTier = "professional"
	PlanBusiness     PlanTier = "business"
	PlanEnterprise   PlanTier = "enterprise"
)

// PlanTiers lists every tier from smallest to largest.
var PlanTiers = []PlanTier{PlanFree, PlanStarter, PlanPro, PlanProfessional, PlanBusiness, PlanEnterprise}

// SubscriptionStatus mirrors the state reported by the billing processor.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription records the plan a user is billed for. Provider and
// ProviderRef identify the subscription at the external processor; they are
// stored for reconciliation only.
type Subscription struct {
	gorm.Model
	UserID           uint               `gorm:"uniqueIndex;not null"`
	PlanTier         PlanTier           `gorm:"type:varchar(32);not null"`
	Status           SubscriptionStatus `gorm:"type:varchar(32);not null"`
	Provider         string             `gorm:"type:varchar(32)"`
	ProviderRef      string
	CurrentPeriodEnd *time.Time
}

// Entitled reports whether the subscription currently grants its plan's limits.
func (s Subscription) Entitled() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}

// ValidPlanTier reports whether value names a known tier.
func ValidPlanTier(value string) bool {
	for _, tier := range PlanTiers {
		if string(tier) == value {
			return true
		}
	}
	return false
}

// NormalizePlanTier lowercases and trims value, falling back to the free tier.
func NormalizePlanTier(value string) PlanTier {
	candidate := strings.ToLower(strings.TrimSpace(value))
	if ValidPlanTier(candidate) {
		return PlanTier(candidate)
	}
	return PlanFree
}

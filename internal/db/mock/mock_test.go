package mock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"makercalc/models"
)

func TestNewSeedsExpectedRecords(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx)
	if err != nil {
		t.Fatalf("mock database initialization failed: %v", err)
	}

	var materials []models.RawMaterial
	if err := db.WithContext(ctx).Find(&materials).Error; err != nil {
		t.Fatalf("query materials: %v", err)
	}
	if len(materials) != 5 {
		t.Fatalf("expected 5 seeded materials, got %d", len(materials))
	}

	var bar models.Formulation
	if err := db.WithContext(ctx).Where("name = ?", "Lavender Bar").First(&bar).Error; err != nil {
		t.Fatalf("query formulation: %v", err)
	}
	// base 19.68 + lavender 9.60 + boxes 3.00
	if want := decimal.RequireFromString("32.28"); !bar.TotalCost.Equal(want) {
		t.Fatalf("expected bar total cost %s, got %s", want, bar.TotalCost)
	}
	if bar.CostError != "" {
		t.Fatalf("unexpected cost error %q", bar.CostError)
	}

	var user models.User
	if err := db.WithContext(ctx).Where("email = ?", DemoEmail).First(&user).Error; err != nil {
		t.Fatalf("query user: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(DemoPassword)); err != nil {
		t.Fatalf("unexpected password hash: %v", err)
	}

	var sub models.Subscription
	if err := db.WithContext(ctx).Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		t.Fatalf("query subscription: %v", err)
	}
	if sub.PlanTier != models.PlanPro {
		t.Fatalf("expected pro plan, got %s", sub.PlanTier)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx); err != nil {
		t.Fatalf("first initialization failed: %v", err)
	}
	db, err := New(ctx)
	if err != nil {
		t.Fatalf("second initialization failed: %v", err)
	}
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Where("email = ?", DemoEmail).Count(&count).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single demo user, got %d", count)
	}
}

package mock

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	appdb "makercalc/internal/db"
	applog "makercalc/internal/log"
	"makercalc/internal/service"
	"makercalc/models"
)

const (
	// DemoEmail and DemoPassword sign in to the seeded workspace.
	DemoEmail    = "demo@makercalc.app"
	DemoPassword = "lavender"
)

// New returns an in-memory sqlite database seeded with a small soap maker
// workspace. Seeding goes through the service so every derived cost is
// computed the same way as in production.
func New(ctx context.Context) (*gorm.DB, error) {
	applog.Debug(ctx, "initialising mock database")

	db, err := appdb.OpenInMemory("makercalc-mock")
	if err != nil {
		return nil, err
	}

	if err := seed(ctx, db); err != nil {
		return nil, err
	}

	applog.Debug(ctx, "mock database ready")
	return db, nil
}

func seed(ctx context.Context, db *gorm.DB) error {
	var existing models.User
	err := db.WithContext(ctx).Where("email = ?", DemoEmail).First(&existing).Error
	if err == nil {
		applog.Debug(ctx, "mock database already seeded")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	applog.Debug(ctx, "seeding mock database")

	password, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &models.User{
		Name:         "Juniper Soap Co.",
		Email:        DemoEmail,
		PasswordHash: string(password),
	}
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		return err
	}

	svc := service.New(db, service.Options{})
	if _, err := svc.ChangePlan(ctx, user.ID, string(models.PlanPro)); err != nil {
		return fmt.Errorf("seed plan: %w", err)
	}

	oils, err := svc.CreateCategory(ctx, user.ID, service.CategoryInput{Name: "Oils & Butters"})
	if err != nil {
		return fmt.Errorf("seed category: %w", err)
	}
	packaging, err := svc.CreateCategory(ctx, user.ID, service.CategoryInput{Name: "Packaging"})
	if err != nil {
		return fmt.Errorf("seed category: %w", err)
	}
	supplier, err := svc.CreateVendor(ctx, user.ID, service.VendorInput{
		Name:         "Hillside Soap Supply",
		ContactEmail: "orders@hillside.example",
		Website:      "https://hillside.example",
	})
	if err != nil {
		return fmt.Errorf("seed vendor: %w", err)
	}

	materials := map[string]models.RawMaterial{}
	for _, in := range []service.MaterialInput{
		{Name: "Olive Oil", SKU: "OIL-OLV", CategoryID: &oils.ID, VendorID: &supplier.ID, TotalCost: d("25.50"), Quantity: d("1"), Unit: "kg"},
		{Name: "Coconut Oil", SKU: "OIL-COC", CategoryID: &oils.ID, VendorID: &supplier.ID, TotalCost: d("18"), Quantity: d("2"), Unit: "kg"},
		{Name: "Sodium Hydroxide", SKU: "LYE-01", VendorID: &supplier.ID, TotalCost: d("12"), Quantity: d("1000"), Unit: "g"},
		{Name: "Lavender Essential Oil", SKU: "EO-LAV", VendorID: &supplier.ID, TotalCost: d("32"), Quantity: d("100"), Unit: "ml"},
		{Name: "Kraft Box", SKU: "BOX-KR", CategoryID: &packaging.ID, TotalCost: d("15"), Quantity: d("50"), Unit: "pcs"},
	} {
		material, err := svc.CreateMaterial(ctx, user.ID, in)
		if err != nil {
			return fmt.Errorf("seed material %s: %w", in.Name, err)
		}
		materials[material.Name] = material
	}

	base, err := svc.CreateFormulation(ctx, user.ID, service.FormulationInput{
		Name:        "Cold Process Base",
		Description: "Olive and coconut base cured four weeks.",
		BatchSize:   d("1"),
		BatchUnit:   "kg",
	})
	if err != nil {
		return fmt.Errorf("seed formulation: %w", err)
	}
	target := d("6.50")
	bar, err := svc.CreateFormulation(ctx, user.ID, service.FormulationInput{
		Name:        "Lavender Bar",
		Description: "Boxed lavender bar, ten per batch.",
		BatchSize:   d("10"),
		BatchUnit:   "pcs",
		TargetPrice: &target,
	})
	if err != nil {
		return fmt.Errorf("seed formulation: %w", err)
	}

	noMarkup := false
	lines := []service.IngredientInput{
		{FormulationID: base.ID, MaterialID: ptr(materials["Olive Oil"].ID), Quantity: d("0.6"), Unit: "kg"},
		{FormulationID: base.ID, MaterialID: ptr(materials["Coconut Oil"].ID), Quantity: d("0.3"), Unit: "kg"},
		{FormulationID: base.ID, MaterialID: ptr(materials["Sodium Hydroxide"].ID), Quantity: d("140"), Unit: "g"},
		{FormulationID: bar.ID, SubFormulationID: ptr(base.ID), Quantity: d("1"), Unit: "kg"},
		{FormulationID: bar.ID, MaterialID: ptr(materials["Lavender Essential Oil"].ID), Quantity: d("30"), Unit: "ml"},
		{FormulationID: bar.ID, MaterialID: ptr(materials["Kraft Box"].ID), Quantity: d("10"), Unit: "pcs", IncludeInMarkup: &noMarkup},
	}
	for _, line := range lines {
		if _, _, err := svc.AddIngredient(ctx, user.ID, line); err != nil {
			return fmt.Errorf("seed ingredient: %w", err)
		}
	}

	applog.Debug(ctx, "mock database seeded", "userID", user.ID, "materials", len(materials))
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(id uint) *uint {
	return &id
}

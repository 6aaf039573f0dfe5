package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Formulation is a costed product recipe producing BatchSize BatchUnit per batch.
// The cost fields are derived from the ingredients and rewritten on every recompute.
type Formulation struct {
	gorm.Model
	OwnerID          uint                `gorm:"index;not null"`
	Name             string              `gorm:"not null"`
	Description      string              `gorm:"type:text"`
	BatchSize        decimal.Decimal     `gorm:"type:numeric(18,4);not null"`
	BatchUnit        string              `gorm:"type:varchar(8);not null"`
	TargetPrice      decimal.NullDecimal `gorm:"type:numeric(18,4)"`
	MarkupPercentage decimal.Decimal     `gorm:"type:numeric(10,4);not null"`
	IsActive         bool                `gorm:"not null"`

	TotalCost          decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	UnitCost           decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	MarkupEligibleCost decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	SuggestedPrice     decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	ProfitMargin       decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	CostError          string          `gorm:"type:text"`
	CostsRefreshedAt   *time.Time

	Ingredients []FormulationIngredient `gorm:"foreignKey:FormulationID"`
}

// FormulationIngredient is one line of a formulation. Exactly one of
// MaterialID and SubFormulationID is set.
type FormulationIngredient struct {
	gorm.Model
	FormulationID    uint            `gorm:"index;not null"`
	MaterialID       *uint           `gorm:"index"`
	SubFormulationID *uint           `gorm:"index"`
	Quantity         decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	Unit             string          `gorm:"type:varchar(8);not null"`
	CostContribution decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	IncludeInMarkup  bool            `gorm:"not null"`
	SortOrder        int             `gorm:"not null"`
	Notes            string          `gorm:"type:text"`

	Material       *RawMaterial `gorm:"foreignKey:MaterialID"`
	SubFormulation *Formulation `gorm:"foreignKey:SubFormulationID"`
}

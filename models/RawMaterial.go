package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RawMaterial is a purchased input priced by TotalCost for Quantity units.
// UnitCost is derived and kept at full precision.
type RawMaterial struct {
	gorm.Model
	OwnerID    uint            `gorm:"index;not null"`
	Name       string          `gorm:"not null"`
	SKU        string          `gorm:"column:sku"`
	CategoryID *uint           `gorm:"index"`
	VendorID   *uint           `gorm:"index"`
	TotalCost  decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	Quantity   decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	Unit       string          `gorm:"type:varchar(8);not null"`
	UnitCost   decimal.Decimal `gorm:"type:numeric(28,12);not null"`
	IsActive   bool            `gorm:"not null"`
	Notes      string          `gorm:"type:text"`

	Category *MaterialCategory `gorm:"foreignKey:CategoryID"`
	Vendor   *Vendor           `gorm:"foreignKey:VendorID"`
}

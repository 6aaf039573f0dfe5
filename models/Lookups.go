package models

import "gorm.io/gorm"

// MaterialCategory groups raw materials for a single user.
type MaterialCategory struct {
	gorm.Model
	OwnerID     uint   `gorm:"index;not null"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
}

// Vendor is a supplier of raw materials for a single user.
type Vendor struct {
	gorm.Model
	OwnerID      uint   `gorm:"index;not null"`
	Name         string `gorm:"not null"`
	ContactEmail string
	Phone        string
	Website      string
	Notes        string `gorm:"type:text"`
}

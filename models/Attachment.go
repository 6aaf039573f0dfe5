package models

import "gorm.io/gorm"

// Attachment entity types.
const (
	AttachmentMaterial    = "material"
	AttachmentFormulation = "formulation"
	AttachmentVendor      = "vendor"
)

// Attachment is a file uploaded against a material, formulation or vendor.
// The bytes live in blob storage under StorageKey.
type Attachment struct {
	gorm.Model
	OwnerID       uint   `gorm:"index;not null"`
	EntityType    string `gorm:"type:varchar(16);index:idx_attachment_entity;not null"`
	EntityID      uint   `gorm:"index:idx_attachment_entity;not null"`
	FileName      string `gorm:"not null"`
	ContentType   string
	SizeBytes     int64  `gorm:"not null"`
	StorageKey    string `gorm:"uniqueIndex;not null"`
	ExtractedText string `gorm:"type:text"`
}

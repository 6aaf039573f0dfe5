package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions.
const (
	AuditCreate     = "create"
	AuditUpdate     = "update"
	AuditDelete     = "delete"
	AuditRefresh    = "refresh"
	AuditPlanChange = "plan_change"
	AuditImport     = "import"
)

// AuditLogEntry is an append-only record of a user action. Entries are never
// updated; the retention purge is the only path that removes them.
type AuditLogEntry struct {
	ID         uint              `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
	UserID     uint              `gorm:"index;not null" json:"-"`
	Action     string            `gorm:"type:varchar(32);not null" json:"action"`
	EntityType string            `gorm:"type:varchar(32);not null" json:"entity_type"`
	EntityID   uint              `json:"entity_id"`
	EntityName string            `json:"entity_name"`
	Details    datatypes.JSONMap `json:"details,omitempty"`
}

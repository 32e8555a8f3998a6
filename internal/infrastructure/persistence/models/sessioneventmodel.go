package models

import (
	"time"

	"gorm.io/datatypes"
)

// SessionEventModel is the append-only audit trail row. Rows are pruned by
// age and never read back for control decisions.
type SessionEventModel struct {
	ID        uint           `gorm:"primarykey"`
	AccountID string         `gorm:"size:64;not null;index"`
	EventType string         `gorm:"size:50;not null"`
	Payload   datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"index"`
}

// TableName specifies the table name for GORM
func (SessionEventModel) TableName() string {
	return "wa_session_events"
}

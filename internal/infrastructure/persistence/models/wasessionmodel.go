package models

import "time"

// WaSessionModel is the persistence model for WhatsApp session records.
// The durable store exclusively owns every field here.
type WaSessionModel struct {
	AccountID string `gorm:"primarykey;size:64"`

	CredentialBlob    []byte `gorm:"type:mediumblob"`
	CredentialVersion string `gorm:"size:32"`

	ConnectionStatus    string `gorm:"size:20;not null;index"`
	LastConnectedAt     *time.Time
	LastDisconnectedAt  *time.Time
	DisconnectReason    string `gorm:"size:255"`
	ConsecutiveFailures int    `gorm:"not null;default:0"`

	ReconnectAttempts int `gorm:"not null;default:0"`
	BackoffSeconds    int `gorm:"not null;default:0"`
	LastAttemptAt     *time.Time
	NextAttemptAt     *time.Time `gorm:"index"`
	LockedBy          string     `gorm:"size:64"`

	SchemaVersion    int    `gorm:"not null;default:1"`
	Checksum         string `gorm:"size:64"`
	LastValidatedAt  *time.Time
	ValidationStatus string `gorm:"size:10;not null;default:'unknown'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name for GORM
func (WaSessionModel) TableName() string {
	return "wa_sessions"
}

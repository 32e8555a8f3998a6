package models

import "time"

// SessionBackupModel is one credential snapshot. Each row carries its own
// checksum so a silently-corrupted backup can be rejected during recovery.
type SessionBackupModel struct {
	ID                uint   `gorm:"primarykey"`
	AccountID         string `gorm:"size:64;not null;index"`
	CredentialBlob    []byte `gorm:"type:mediumblob"`
	CredentialVersion string `gorm:"size:32"`
	Checksum          string `gorm:"size:64;not null"`
	CreatedAt         time.Time `gorm:"index"`
}

// TableName specifies the table name for GORM
func (SessionBackupModel) TableName() string {
	return "wa_session_backups"
}

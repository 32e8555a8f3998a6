package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/persistence/models"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// SessionBackupRepository keeps a bounded history of credential snapshots.
// Each snapshot stores its own checksum so recovery can reject backups that
// were corrupted after being written.
type SessionBackupRepository struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewSessionBackupRepository(db *gorm.DB, log logger.Interface) session.BackupRepository {
	return &SessionBackupRepository{
		db:     db,
		logger: log.Named("session-backup-repository"),
	}
}

func (r *SessionBackupRepository) Create(ctx context.Context, accountID string, auth session.AuthState, checksum string) error {
	model := &models.SessionBackupModel{
		AccountID:         accountID,
		CredentialBlob:    auth.CredentialBlob,
		CredentialVersion: auth.Version,
		Checksum:          checksum,
		CreatedAt:         biztime.NowUTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create session backup: %w", err)
	}
	return nil
}

func (r *SessionBackupRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]*session.Backup, error) {
	var backupModels []*models.SessionBackupModel
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&backupModels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list session backups: %w", err)
	}

	backups := make([]*session.Backup, 0, len(backupModels))
	for _, m := range backupModels {
		backups = append(backups, &session.Backup{
			ID:        m.ID,
			AccountID: m.AccountID,
			AuthState: session.AuthState{
				CredentialBlob: m.CredentialBlob,
				Version:        m.CredentialVersion,
			},
			Checksum:  m.Checksum,
			CreatedAt: m.CreatedAt,
		})
	}
	return backups, nil
}

// PruneBeyond deletes all but the newest keep snapshots for one account.
func (r *SessionBackupRepository) PruneBeyond(ctx context.Context, accountID string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}

	var keepIDs []uint
	err := r.db.WithContext(ctx).Model(&models.SessionBackupModel{}).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(keep).
		Pluck("id", &keepIDs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select backups to keep: %w", err)
	}
	if len(keepIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND id NOT IN ?", accountID, keepIDs).
		Delete(&models.SessionBackupModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune session backups: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.Debugw("pruned session backups",
			"account_id", accountID, "count", result.RowsAffected, "kept", len(keepIDs))
	}
	return result.RowsAffected, nil
}

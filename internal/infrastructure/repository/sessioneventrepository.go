package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/persistence/models"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// SessionEventRepository is the append-only audit trail. Events are written
// on every state transition and pruned by age; control logic never reads them.
type SessionEventRepository struct {
	db     *gorm.DB
	logger logger.Interface
}

func NewSessionEventRepository(db *gorm.DB, log logger.Interface) session.EventRepository {
	return &SessionEventRepository{
		db:     db,
		logger: log.Named("session-event-repository"),
	}
}

func (r *SessionEventRepository) Append(ctx context.Context, accountID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &models.SessionEventModel{
		AccountID: accountID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: biztime.NowUTC(),
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append session event: %w", err)
	}
	return nil
}

func (r *SessionEventRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.SessionEventModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune session events: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		r.logger.Infow("pruned session events", "count", result.RowsAffected, "cutoff", cutoff)
	}
	return result.RowsAffected, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/persistence/mappers"
	"github.com/wakeeper/wakeeper/internal/infrastructure/persistence/models"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	"github.com/wakeeper/wakeeper/internal/shared/errors"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// ReconnectPolicy carries the store-side reconnect tunables.
type ReconnectPolicy struct {
	BackoffInitialSeconds int
	BackoffCapSeconds     int
	MaxAttempts           int
}

// WaSessionRepository is the gorm-backed durable store for session records.
// Every mutation is a single-record atomic operation; the reconnect counter
// update runs under a row lock so concurrent workers cannot lose updates.
type WaSessionRepository struct {
	db     *gorm.DB
	mapper mappers.WaSessionMapper
	policy ReconnectPolicy
	logger logger.Interface
}

func NewWaSessionRepository(db *gorm.DB, policy ReconnectPolicy, log logger.Interface) session.Repository {
	return &WaSessionRepository{
		db:     db,
		mapper: mappers.NewWaSessionMapper(),
		policy: policy,
		logger: log.Named("wa-session-repository"),
	}
}

// Save upserts the credential with a freshly computed checksum, marks the
// session connected with zeroed failure counters, and appends a
// session_saved audit event in the same transaction. The checksum is a pure
// function of the auth state, so a retried save is idempotent.
func (r *WaSessionRepository) Save(ctx context.Context, accountID string, auth session.AuthState, meta session.SaveMeta) (string, error) {
	if accountID == "" {
		return "", errors.NewValidationError("account ID is required")
	}
	if auth.IsEmpty() {
		return "", errors.NewValidationError("credential blob is required")
	}

	checksum := session.Checksum(auth)
	now := biztime.NowUTC()

	model := &models.WaSessionModel{
		AccountID:         accountID,
		CredentialBlob:    auth.CredentialBlob,
		CredentialVersion: auth.Version,
		ConnectionStatus:  string(session.StatusConnected),
		LastConnectedAt:   &now,
		SchemaVersion:     meta.SchemaVersion,
		Checksum:          checksum,
		LastValidatedAt:   &now,
		ValidationStatus:  string(session.ValidationValid),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"credential_blob", "credential_version",
				"connection_status", "last_connected_at", "disconnect_reason",
				"consecutive_failures", "reconnect_attempts", "backoff_seconds",
				"last_attempt_at", "next_attempt_at",
				"schema_version", "checksum", "last_validated_at", "validation_status",
				"updated_at",
			}),
		}).Create(model).Error; err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}

		return appendEvent(tx, accountID, session.EventSessionSaved, map[string]any{
			"checksum":       checksum,
			"schema_version": meta.SchemaVersion,
		}, now)
	})
	if err != nil {
		r.logger.Errorw("failed to save session", "account_id", accountID, "error", err)
		return "", err
	}

	r.logger.Infow("session saved", "account_id", accountID, "checksum", checksum[:12])
	return checksum, nil
}

// Load reads the record and re-verifies its checksum. A mismatch is persisted
// as corrupt (with a corruption_detected event) and the flagged record is
// returned rather than an error; callers decide what to do with it.
func (r *WaSessionRepository) Load(ctx context.Context, accountID string) (*session.Session, error) {
	var model models.WaSessionModel
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("session not found", accountID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	entity := r.mapper.ToDomain(&model)
	if entity.VerifyIntegrity() {
		return entity, nil
	}

	// Checksum mismatch: persist the verdict so the session is excluded from
	// reconnect candidates even if this caller ignores the flag.
	r.logger.Warnw("session credential failed integrity check",
		"account_id", accountID,
		"stored_checksum", model.Checksum,
	)
	now := biztime.NowUTC()
	markErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.WaSessionModel{}).
			Where("account_id = ?", accountID).
			Updates(map[string]interface{}{
				"validation_status": string(session.ValidationCorrupt),
				"connection_status": string(session.StatusCorrupt),
				"last_validated_at": now,
				"updated_at":        now,
			}).Error; err != nil {
			return err
		}
		return appendEvent(tx, accountID, session.EventCorruptionDetected, map[string]any{
			"stored_checksum": model.Checksum,
		}, now)
	})
	if markErr != nil {
		r.logger.Errorw("failed to persist corruption verdict", "account_id", accountID, "error", markErr)
	}

	entity.ConnectionStatus = session.StatusCorrupt
	return entity, nil
}

// UpdateConnectionStatus transitions the persisted connection status. A
// transition to connected zeroes every failure counter; a transition to
// disconnected records the reason and timestamp.
func (r *WaSessionRepository) UpdateConnectionStatus(ctx context.Context, accountID string, status session.ConnectionStatus, reason string) error {
	now := biztime.NowUTC()
	updates := map[string]interface{}{
		"connection_status": string(status),
		"updated_at":        now,
	}

	switch status {
	case session.StatusConnected:
		updates["last_connected_at"] = now
		updates["disconnect_reason"] = ""
		updates["consecutive_failures"] = 0
		updates["reconnect_attempts"] = 0
		updates["backoff_seconds"] = 0
		updates["next_attempt_at"] = nil
		updates["last_attempt_at"] = nil
	case session.StatusDisconnected, session.StatusQRRequired:
		updates["last_disconnected_at"] = now
		updates["disconnect_reason"] = reason
	default:
		if reason != "" {
			updates["disconnect_reason"] = reason
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WaSessionModel{}).
			Where("account_id = ?", accountID).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update connection status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.NewNotFoundError("session not found", accountID)
		}
		return appendEvent(tx, accountID, session.EventStatusChanged, map[string]any{
			"status": string(status),
			"reason": reason,
		}, now)
	})
	if err != nil {
		return err
	}

	r.logger.Debugw("connection status updated",
		"account_id", accountID, "status", status, "reason", reason)
	return nil
}

// RecordReconnectAttempt atomically bumps the attempt and failure counters;
// the incrementing UPDATE takes the row lock, so the read-back and the backoff
// scheduling in the same transaction cannot race another worker. The backoff
// itself is a pure function of the new attempt number, which also corrects any
// drift in the stored value.
func (r *WaSessionRepository) RecordReconnectAttempt(ctx context.Context, accountID string) (*session.AttemptState, error) {
	var state session.AttemptState
	now := biztime.NowUTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WaSessionModel{}).
			Where("account_id = ?", accountID).
			Updates(map[string]interface{}{
				"reconnect_attempts":   gorm.Expr("reconnect_attempts + 1"),
				"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
				"last_attempt_at":      now,
				"connection_status":    string(session.StatusReconnecting),
				"updated_at":           now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to record reconnect attempt: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.NewNotFoundError("session not found", accountID)
		}

		var model models.WaSessionModel
		if err := tx.Where("account_id = ?", accountID).First(&model).Error; err != nil {
			return fmt.Errorf("failed to read back reconnect state: %w", err)
		}

		backoff := session.BackoffForAttempt(model.ReconnectAttempts,
			r.policy.BackoffInitialSeconds, r.policy.BackoffCapSeconds)
		next := now.Add(time.Duration(backoff) * time.Second)
		if err := tx.Model(&models.WaSessionModel{}).
			Where("account_id = ?", accountID).
			Updates(map[string]interface{}{
				"backoff_seconds": backoff,
				"next_attempt_at": next,
			}).Error; err != nil {
			return fmt.Errorf("failed to schedule next attempt: %w", err)
		}

		state = session.AttemptState{
			Attempts:       model.ReconnectAttempts,
			BackoffSeconds: backoff,
			NextAttemptAt:  next,
		}
		return appendEvent(tx, accountID, session.EventReconnectAttempt, map[string]any{
			"attempts":        state.Attempts,
			"backoff_seconds": backoff,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// ListReconnectCandidates returns sessions eligible for automatic reconnect.
// Corrupt sessions and sessions at the attempt cap are excluded; sessions
// inside their backoff window are left for a later pass.
func (r *WaSessionRepository) ListReconnectCandidates(ctx context.Context) ([]*session.Session, error) {
	now := biztime.NowUTC()
	var sessionModels []*models.WaSessionModel

	err := r.db.WithContext(ctx).
		Where("connection_status IN ?", []string{
			string(session.StatusDisconnected),
			string(session.StatusReconnecting),
		}).
		Where("validation_status <> ?", string(session.ValidationCorrupt)).
		Where("reconnect_attempts < ?", r.policy.MaxAttempts).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("account_id").
		Find(&sessionModels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reconnect candidates: %w", err)
	}

	return r.mapper.ToDomains(sessionModels), nil
}

// MarkValidation persists an integrity verdict without touching anything else.
func (r *WaSessionRepository) MarkValidation(ctx context.Context, accountID string, status session.ValidationStatus) error {
	now := biztime.NowUTC()
	result := r.db.WithContext(ctx).Model(&models.WaSessionModel{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"validation_status": string(status),
			"last_validated_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark validation status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NewNotFoundError("session not found", accountID)
	}
	return nil
}

// List returns all session records for observability projections.
func (r *WaSessionRepository) List(ctx context.Context) ([]*session.Session, error) {
	var sessionModels []*models.WaSessionModel
	if err := r.db.WithContext(ctx).Order("account_id").Find(&sessionModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return r.mapper.ToDomains(sessionModels), nil
}

// appendEvent writes one audit row inside the caller's transaction.
func appendEvent(tx *gorm.DB, accountID, eventType string, payload map[string]any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	event := &models.SessionEventModel{
		AccountID: accountID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: at,
	}
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}

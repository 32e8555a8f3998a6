package mappers

import (
	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/persistence/models"
)

// WaSessionMapper handles the conversion between domain entities and persistence models
type WaSessionMapper interface {
	ToDomain(model *models.WaSessionModel) *session.Session
	ToModel(entity *session.Session) *models.WaSessionModel
	ToDomains(models []*models.WaSessionModel) []*session.Session
}

type waSessionMapper struct{}

// NewWaSessionMapper creates a new session mapper
func NewWaSessionMapper() WaSessionMapper {
	return &waSessionMapper{}
}

func (m *waSessionMapper) ToDomain(model *models.WaSessionModel) *session.Session {
	if model == nil {
		return nil
	}

	return &session.Session{
		AccountID: model.AccountID,
		AuthState: session.AuthState{
			CredentialBlob: model.CredentialBlob,
			Version:        model.CredentialVersion,
		},
		ConnectionStatus:    session.ConnectionStatus(model.ConnectionStatus),
		LastConnectedAt:     model.LastConnectedAt,
		LastDisconnectedAt:  model.LastDisconnectedAt,
		DisconnectReason:    model.DisconnectReason,
		ConsecutiveFailures: model.ConsecutiveFailures,
		Reconnect: session.ReconnectState{
			Attempts:       model.ReconnectAttempts,
			BackoffSeconds: model.BackoffSeconds,
			LastAttemptAt:  model.LastAttemptAt,
			NextAttemptAt:  model.NextAttemptAt,
			LockedBy:       model.LockedBy,
		},
		Integrity: session.Integrity{
			SchemaVersion:    model.SchemaVersion,
			Checksum:         model.Checksum,
			LastValidatedAt:  model.LastValidatedAt,
			ValidationStatus: session.ValidationStatus(model.ValidationStatus),
		},
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func (m *waSessionMapper) ToModel(entity *session.Session) *models.WaSessionModel {
	if entity == nil {
		return nil
	}

	return &models.WaSessionModel{
		AccountID:           entity.AccountID,
		CredentialBlob:      entity.AuthState.CredentialBlob,
		CredentialVersion:   entity.AuthState.Version,
		ConnectionStatus:    string(entity.ConnectionStatus),
		LastConnectedAt:     entity.LastConnectedAt,
		LastDisconnectedAt:  entity.LastDisconnectedAt,
		DisconnectReason:    entity.DisconnectReason,
		ConsecutiveFailures: entity.ConsecutiveFailures,
		ReconnectAttempts:   entity.Reconnect.Attempts,
		BackoffSeconds:      entity.Reconnect.BackoffSeconds,
		LastAttemptAt:       entity.Reconnect.LastAttemptAt,
		NextAttemptAt:       entity.Reconnect.NextAttemptAt,
		LockedBy:            entity.Reconnect.LockedBy,
		SchemaVersion:       entity.Integrity.SchemaVersion,
		Checksum:            entity.Integrity.Checksum,
		LastValidatedAt:     entity.Integrity.LastValidatedAt,
		ValidationStatus:    string(entity.Integrity.ValidationStatus),
		CreatedAt:           entity.CreatedAt,
		UpdatedAt:           entity.UpdatedAt,
	}
}

func (m *waSessionMapper) ToDomains(sessionModels []*models.WaSessionModel) []*session.Session {
	entities := make([]*session.Session, 0, len(sessionModels))
	for _, model := range sessionModels {
		if entity := m.ToDomain(model); entity != nil {
			entities = append(entities, entity)
		}
	}
	return entities
}

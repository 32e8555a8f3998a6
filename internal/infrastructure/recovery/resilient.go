package recovery

import (
	"context"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/shared/errors"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// Replayable operation names used in outage queue markers.
const (
	OpUpdateStatus   = "update_status"
	OpMarkValidation = "mark_validation"
)

// ResilientStore wraps the durable store so that status and validation writes
// survive a store outage: a failed write is parked on the outage queue and
// replayed at the next boot instead of being lost. Reads and credential saves
// pass through untouched; a credential that cannot reach the store is not
// silently deferred.
type ResilientStore struct {
	session.Repository
	queue  *OutageQueue
	logger logger.Interface
}

func NewResilientStore(inner session.Repository, queue *OutageQueue, log logger.Interface) *ResilientStore {
	return &ResilientStore{
		Repository: inner,
		queue:      queue,
		logger:     log.Named("resilient-store"),
	}
}

func (r *ResilientStore) UpdateConnectionStatus(ctx context.Context, accountID string, status session.ConnectionStatus, reason string) error {
	err := r.Repository.UpdateConnectionStatus(ctx, accountID, status, reason)
	if err == nil || !isStoreOutage(err) {
		return err
	}

	r.logger.Warnw("store unreachable, parking status update",
		"account_id", accountID, "status", status, "error", err)
	if qerr := r.queue.Enqueue(accountID, OpUpdateStatus, map[string]any{
		"status": string(status),
		"reason": reason,
	}); qerr != nil {
		return err
	}
	return nil
}

func (r *ResilientStore) MarkValidation(ctx context.Context, accountID string, status session.ValidationStatus) error {
	err := r.Repository.MarkValidation(ctx, accountID, status)
	if err == nil || !isStoreOutage(err) {
		return err
	}

	r.logger.Warnw("store unreachable, parking validation verdict",
		"account_id", accountID, "status", status, "error", err)
	if qerr := r.queue.Enqueue(accountID, OpMarkValidation, map[string]any{
		"status": string(status),
	}); qerr != nil {
		return err
	}
	return nil
}

// ApplyPending replays one queued marker against the store.
func ApplyPending(ctx context.Context, repo session.Repository, op PendingOperation) error {
	switch op.Operation {
	case OpUpdateStatus:
		status, _ := op.Payload["status"].(string)
		reason, _ := op.Payload["reason"].(string)
		return repo.UpdateConnectionStatus(ctx, op.AccountID, session.ConnectionStatus(status), reason)
	case OpMarkValidation:
		status, _ := op.Payload["status"].(string)
		return repo.MarkValidation(ctx, op.AccountID, session.ValidationStatus(status))
	default:
		// Unknown markers are dropped rather than wedging the replay.
		return nil
	}
}

// isStoreOutage separates infrastructure failures from domain outcomes. A
// missing record or a validation rejection is a real answer from the store,
// not an outage.
func isStoreOutage(err error) bool {
	if errors.IsNotFound(err) {
		return false
	}
	if errors.IsType(err, errors.ErrorTypeValidation) {
		return false
	}
	return true
}

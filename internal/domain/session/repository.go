package session

import (
	"context"
	"time"
)

// SaveMeta carries the non-credential fields recorded on save.
type SaveMeta struct {
	SchemaVersion int
}

// AttemptState is the result of atomically recording a reconnect attempt.
type AttemptState struct {
	Attempts       int
	BackoffSeconds int
	NextAttemptAt  time.Time
}

// Repository is the durable store contract for session records. All writes
// are single-record atomic operations; there is no read-modify-write path
// that could lose updates under concurrent workers.
type Repository interface {
	// Save computes a checksum over the auth state, atomically upserts the
	// record with connected status and zeroed failure counters, and returns
	// the checksum.
	Save(ctx context.Context, accountID string, auth AuthState, meta SaveMeta) (string, error)

	// Load reads a record and re-verifies its checksum. On mismatch the
	// record is persisted as corrupt and returned flagged accordingly rather
	// than failing; callers decide whether it is usable.
	Load(ctx context.Context, accountID string) (*Session, error)

	// UpdateConnectionStatus transitions the connection status. A transition
	// to connected resets all failure counters; a transition to disconnected
	// records the reason and timestamp.
	UpdateConnectionStatus(ctx context.Context, accountID string, status ConnectionStatus, reason string) error

	// RecordReconnectAttempt atomically increments the attempt counter,
	// doubles the bounded backoff, schedules the next attempt, and moves the
	// session to reconnecting.
	RecordReconnectAttempt(ctx context.Context, accountID string) (*AttemptState, error)

	// ListReconnectCandidates returns sessions eligible for automatic
	// reconnect: disconnected or reconnecting, not corrupt, under the attempt
	// cap, with no pending backoff window.
	ListReconnectCandidates(ctx context.Context) ([]*Session, error)

	// MarkValidation persists an integrity verdict.
	MarkValidation(ctx context.Context, accountID string, status ValidationStatus) error

	// List returns all session records, for observability projections.
	List(ctx context.Context) ([]*Session, error)
}

// EventRepository is the append-only audit trail.
type EventRepository interface {
	Append(ctx context.Context, accountID, eventType string, payload map[string]any) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BackupRepository keeps a bounded history of credential snapshots per session.
type BackupRepository interface {
	Create(ctx context.Context, accountID string, auth AuthState, checksum string) error
	ListRecent(ctx context.Context, accountID string, limit int) ([]*Backup, error)
	PruneBeyond(ctx context.Context, accountID string, keep int) (int64, error)
}

// LockManager is the leased, TTL-based mutual exclusion primitive keyed by
// account. Acquire is a non-blocking try-lock, reentrant for the same owner.
// Expiry is handled by the backing store's own TTL mechanism, so a crashed
// holder's lease self-expires without a sweep process.
type LockManager interface {
	Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID string) error
	// Holder returns the current lease owner, or "" when unlocked.
	Holder(ctx context.Context, accountID string) (string, error)
}

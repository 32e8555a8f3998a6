package session

import "time"

// Audit event types appended on every state transition. Events are written
// for diagnosis only and are never read back for control decisions.
const (
	EventSessionSaved       = "session_saved"
	EventStatusChanged      = "status_changed"
	EventReconnectAttempt   = "reconnect_attempt"
	EventReconnectExhausted = "reconnect_exhausted"
	EventCorruptionDetected = "corruption_detected"
	EventSessionRecovered   = "session_recovered"
	EventBreakerOpened      = "breaker_opened"
	EventBreakerClosed      = "breaker_closed"
)

// Event is one append-only audit trail entry.
type Event struct {
	ID        uint
	AccountID string
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}

// Backup is one bounded-retention snapshot of a session's credential,
// carrying its own checksum so silently-corrupted backups can be rejected.
type Backup struct {
	ID        uint
	AccountID string
	AuthState AuthState
	Checksum  string
	CreatedAt time.Time
}

// Verify recomputes the backup's checksum against its stored value.
func (b *Backup) Verify() bool {
	return Checksum(b.AuthState) == b.Checksum
}

package session

import (
	"fmt"
	"time"

	"github.com/wakeeper/wakeeper/internal/shared/biztime"
)

// AuthState is the opaque credential material that lets a session be
// re-established without fresh manual authentication. The blob is never
// interpreted here; Version tags the credential format it was written with.
type AuthState struct {
	CredentialBlob []byte
	Version        string
}

func (a AuthState) IsEmpty() bool {
	return len(a.CredentialBlob) == 0
}

// ReconnectState tracks automatic reconnect progress for one session.
type ReconnectState struct {
	Attempts       int
	BackoffSeconds int
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time
	LockedBy       string
}

// Integrity carries the checksum state guarding the persisted credential.
type Integrity struct {
	SchemaVersion    int
	Checksum         string
	LastValidatedAt  *time.Time
	ValidationStatus ValidationStatus
}

// Session is one logical authenticated connection to the remote service,
// identified by AccountID. The durable store is the source of truth for
// everything on this struct; in-memory copies are rebuilt from it on restart.
type Session struct {
	AccountID string
	AuthState AuthState

	ConnectionStatus    ConnectionStatus
	LastConnectedAt     *time.Time
	LastDisconnectedAt  *time.Time
	DisconnectReason    string
	ConsecutiveFailures int

	Reconnect ReconnectState
	Integrity Integrity

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession builds a session record for a freshly authenticated account.
func NewSession(accountID string, auth AuthState, schemaVersion int) (*Session, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID is required")
	}
	if auth.IsEmpty() {
		return nil, fmt.Errorf("credential blob is required")
	}

	now := biztime.NowUTC()
	return &Session{
		AccountID:        accountID,
		AuthState:        auth,
		ConnectionStatus: StatusConnected,
		LastConnectedAt:  &now,
		Integrity: Integrity{
			SchemaVersion:    schemaVersion,
			Checksum:         Checksum(auth),
			LastValidatedAt:  &now,
			ValidationStatus: ValidationValid,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkConnected records a successful (re)connection and clears all failure
// and backoff state. Connected sessions always have zeroed counters.
func (s *Session) MarkConnected() {
	now := biztime.NowUTC()
	s.ConnectionStatus = StatusConnected
	s.LastConnectedAt = &now
	s.DisconnectReason = ""
	s.ConsecutiveFailures = 0
	s.Reconnect = ReconnectState{}
	s.UpdatedAt = now
}

// MarkDisconnected records a disconnect with its reason. Terminal reasons
// (explicit logout, identity conflict) move the session into a state that is
// never picked up for automatic reconnect.
func (s *Session) MarkDisconnected(reason string) {
	now := biztime.NowUTC()
	s.LastDisconnectedAt = &now
	s.DisconnectReason = reason
	if IsTerminalDisconnect(reason) {
		s.ConnectionStatus = StatusQRRequired
	} else {
		s.ConnectionStatus = StatusDisconnected
	}
	s.UpdatedAt = now
}

// MarkCorrupt flags the persisted credential as failing integrity checks.
func (s *Session) MarkCorrupt() {
	now := biztime.NowUTC()
	s.ConnectionStatus = StatusCorrupt
	s.Integrity.ValidationStatus = ValidationCorrupt
	s.Integrity.LastValidatedAt = &now
	s.UpdatedAt = now
}

// VerifyIntegrity recomputes the credential checksum and updates validation
// state. It returns false when the stored checksum no longer matches.
func (s *Session) VerifyIntegrity() bool {
	now := biztime.NowUTC()
	s.Integrity.LastValidatedAt = &now
	if Checksum(s.AuthState) != s.Integrity.Checksum {
		s.Integrity.ValidationStatus = ValidationCorrupt
		return false
	}
	s.Integrity.ValidationStatus = ValidationValid
	return true
}

// HasValidCredential reports whether the session can be rehydrated without
// operator action: credential present, checksum intact, not in a terminal state.
func (s *Session) HasValidCredential() bool {
	if s.AuthState.IsEmpty() || s.AuthState.Version == "" {
		return false
	}
	if s.Integrity.ValidationStatus == ValidationCorrupt {
		return false
	}
	return Checksum(s.AuthState) == s.Integrity.Checksum
}

// ReconnectDue reports whether the session's backoff window has elapsed.
func (s *Session) ReconnectDue(now time.Time) bool {
	return s.Reconnect.NextAttemptAt == nil || !s.Reconnect.NextAttemptAt.After(now)
}

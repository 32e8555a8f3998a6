package session

import "strings"

// ConnectionStatus is the persisted lifecycle state of a session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	// StatusQRRequired means the operator must re-scan a credential.
	StatusQRRequired ConnectionStatus = "qr_required"
	// StatusMaxRetries means automatic recovery gave up; manual action needed.
	StatusMaxRetries ConnectionStatus = "max_retries"
	// StatusCorrupt means the persisted credential failed integrity checks.
	StatusCorrupt ConnectionStatus = "corrupt"
)

// IsTerminal reports whether the status requires operator intervention and
// must never be auto-reconnected.
func (s ConnectionStatus) IsTerminal() bool {
	switch s {
	case StatusQRRequired, StatusMaxRetries, StatusCorrupt:
		return true
	}
	return false
}

// ValidationStatus is the integrity verdict on the persisted credential.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationCorrupt ValidationStatus = "corrupt"
	ValidationUnknown ValidationStatus = "unknown"
)

// Disconnect reasons reported by the session client. Logout and identity
// conflict mean the remote side invalidated the credential on purpose.
const (
	ReasonLoggedOut      = "logged_out"
	ReasonConflict       = "conflict"
	ReasonReplaced       = "replaced"
	ReasonConnectionLost = "connection_lost"
	ReasonTimeout        = "timeout"
)

// IsTerminalDisconnect reports whether a disconnect reason must never trigger
// an automatic reconnect: the user logged out explicitly, or another device
// took over the identity.
func IsTerminalDisconnect(reason string) bool {
	r := strings.ToLower(reason)
	switch r {
	case ReasonLoggedOut, ReasonConflict, ReasonReplaced:
		return true
	}
	// Bridge implementations sometimes report free-form variants.
	return strings.Contains(r, "logout") || strings.Contains(r, "logged out")
}

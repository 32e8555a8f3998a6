package session

import (
	"context"
	"time"
)

// LifecycleEventKind classifies events emitted by the session client.
type LifecycleEventKind string

const (
	LifecycleQRRequired    LifecycleEventKind = "qr_required"
	LifecycleReady         LifecycleEventKind = "ready"
	LifecycleAuthenticated LifecycleEventKind = "authenticated"
	LifecycleAuthFailure   LifecycleEventKind = "auth_failure"
	LifecycleDisconnected  LifecycleEventKind = "disconnected"
	// LifecycleHeartbeat is a periodic liveness signal for a session the
	// client still sees as ready.
	LifecycleHeartbeat LifecycleEventKind = "heartbeat"
)

// LifecycleEvent is one client lifecycle notification. All client callbacks
// are funneled through a single channel consumed by one orchestrator loop,
// which keeps the reconnect state machine auditable and lets tests feed
// synthetic events.
type LifecycleEvent struct {
	AccountID string
	Kind      LifecycleEventKind
	// Reason carries the disconnect or auth-failure cause.
	Reason string
	// Payload carries the QR payload for qr_required events.
	Payload string
	At      time.Time
}

// Client is the opaque session client capability exposed by the automation
// layer. Initialize drives a (re)connection with the given credential;
// Destroy tears the live client down. Both are blocking I/O and honor ctx.
type Client interface {
	Initialize(ctx context.Context, accountID string, auth AuthState) error
	Destroy(ctx context.Context, accountID string) error
	// Events returns the lifecycle event stream for all accounts.
	Events() <-chan LifecycleEvent
}

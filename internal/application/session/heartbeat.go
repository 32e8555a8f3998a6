package session

import (
	"sync"
	"time"
)

// HeartbeatTracker remembers the last time each account's session was seen
// alive by the client. It is in-memory on purpose: a heartbeat only means
// something for the process currently driving the session.
type HeartbeatTracker struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewHeartbeatTracker() *HeartbeatTracker {
	return &HeartbeatTracker{seen: make(map[string]time.Time)}
}

// Record notes a liveness signal. Out-of-order signals never move the
// recorded time backwards.
func (t *HeartbeatTracker) Record(accountID string, at time.Time) {
	t.mu.Lock()
	if current, ok := t.seen[accountID]; !ok || at.After(current) {
		t.seen[accountID] = at
	}
	t.mu.Unlock()
}

// Last returns the most recent heartbeat for an account, if any was seen.
func (t *HeartbeatTracker) Last(accountID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.seen[accountID]
	return at, ok
}

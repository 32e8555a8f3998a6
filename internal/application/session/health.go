package session

import (
	"context"
	"fmt"
	"time"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
)

// HealthLevel grades session health for operators and probes.
type HealthLevel string

const (
	HealthOK       HealthLevel = "ok"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// HealthThresholds are the tunable inputs of the grading: how stale a
// heartbeat may get, how old a stored credential may get, and how many burned
// attempts put a session close enough to exhaustion to page someone. Zero
// disables the corresponding check.
type HealthThresholds struct {
	HeartbeatStale   time.Duration
	CredentialMaxAge time.Duration
	AttemptWarn      int
}

// Alert is one actionable condition, shaped for external dashboards and
// alerting consumers.
type Alert struct {
	AccountID string      `json:"account_id,omitempty"`
	Level     HealthLevel `json:"level"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Action    string      `json:"action"`
}

// AlertReport is the alerts endpoint response.
type AlertReport struct {
	Level  HealthLevel `json:"level"`
	Count  int         `json:"count"`
	Alerts []Alert     `json:"alerts"`
}

// AccountHealth is the per-session slice of the health report.
type AccountHealth struct {
	AccountID           string                   `json:"account_id"`
	Level               HealthLevel              `json:"level"`
	Status              session.ConnectionStatus `json:"status"`
	DisconnectReason    string                   `json:"disconnect_reason,omitempty"`
	ConsecutiveFailures int                      `json:"consecutive_failures"`
	ReconnectAttempts   int                      `json:"reconnect_attempts"`
	BackoffSeconds      int                      `json:"backoff_seconds"`
	NextAttemptAt       *time.Time               `json:"next_attempt_at,omitempty"`
	LastConnectedAt     *time.Time               `json:"last_connected_at,omitempty"`
	LastDisconnectedAt  *time.Time               `json:"last_disconnected_at,omitempty"`
	HeartbeatAt         *time.Time               `json:"heartbeat_at,omitempty"`
	HeartbeatOk         bool                     `json:"heartbeat_ok"`
	LockedBy            string                   `json:"locked_by,omitempty"`
	ValidationStatus    session.ValidationStatus `json:"validation_status"`
}

// HealthReport is the aggregate, read-only projection over the durable store,
// the lease store, and the orchestrator's in-memory liveness state.
type HealthReport struct {
	Level       HealthLevel     `json:"level"`
	State       string          `json:"state"`
	Connected   bool            `json:"connected"`
	HeartbeatOk bool            `json:"heartbeat_ok"`
	BreakerOpen bool            `json:"breaker_open"`
	AlertCount  int             `json:"alert_count"`
	UptimeMs    int64           `json:"uptime_ms"`
	GeneratedAt time.Time       `json:"generated_at"`
	Counts      map[string]int  `json:"counts"`
	Accounts    []AccountHealth `json:"accounts"`
	Alerts      []Alert         `json:"alerts"`
}

// HealthService computes health and alert projections. It only reads; health
// queries never mutate reconnect state.
type HealthService struct {
	sessions   session.Repository
	locks      session.LockManager
	heartbeats *HeartbeatTracker
	breaker    *Breaker
	thresholds HealthThresholds
	startedAt  time.Time
}

func NewHealthService(
	sessions session.Repository,
	locks session.LockManager,
	heartbeats *HeartbeatTracker,
	breaker *Breaker,
	thresholds HealthThresholds,
) *HealthService {
	return &HealthService{
		sessions:   sessions,
		locks:      locks,
		heartbeats: heartbeats,
		breaker:    breaker,
		thresholds: thresholds,
		startedAt:  biztime.NowUTC(),
	}
}

// Report builds the full health projection.
func (h *HealthService) Report(ctx context.Context) (*HealthReport, error) {
	records, err := h.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	now := biztime.NowUTC()
	_, breakerOpen := h.breaker.BlockedUntil(now)

	report := &HealthReport{
		Level:       HealthOK,
		State:       string(session.StatusConnected),
		Connected:   true,
		HeartbeatOk: true,
		BreakerOpen: breakerOpen,
		UptimeMs:    now.Sub(h.startedAt).Milliseconds(),
		GeneratedAt: now,
		Counts:      make(map[string]int),
		Accounts:    make([]AccountHealth, 0, len(records)),
		Alerts:      make([]Alert, 0),
	}
	if breakerOpen {
		report.Alerts = append(report.Alerts, Alert{
			Level:   HealthCritical,
			Code:    "breaker_open",
			Message: fmt.Sprintf("circuit breaker open after %d consecutive failures", h.breaker.Failures()),
			Action:  "wait out the cooldown; check the bridge and network if it reopens",
		})
	}

	worstStatus := session.StatusConnected
	for _, record := range records {
		account, alerts := h.gradeAccount(ctx, record, now)
		report.Counts[string(record.ConnectionStatus)]++
		report.Accounts = append(report.Accounts, account)
		report.Alerts = append(report.Alerts, alerts...)
		if statusRank(record.ConnectionStatus) > statusRank(worstStatus) {
			worstStatus = record.ConnectionStatus
		}
		if record.ConnectionStatus != session.StatusConnected {
			report.Connected = false
		}
		if !account.HeartbeatOk {
			report.HeartbeatOk = false
		}
	}

	report.State = string(worstStatus)
	report.AlertCount = len(report.Alerts)
	for _, alert := range report.Alerts {
		report.Level = worseOf(report.Level, alert.Level)
	}
	return report, nil
}

// Alerts returns only the actionable conditions.
func (h *HealthService) Alerts(ctx context.Context) (*AlertReport, error) {
	report, err := h.Report(ctx)
	if err != nil {
		return nil, err
	}
	return &AlertReport{
		Level:  report.Level,
		Count:  len(report.Alerts),
		Alerts: report.Alerts,
	}, nil
}

// gradeAccount runs the threshold checks for one session: heartbeat age,
// terminal states and integrity, attempt count, and credential age. The
// account's level is the worst alert it produced.
func (h *HealthService) gradeAccount(ctx context.Context, record *session.Session, now time.Time) (AccountHealth, []Alert) {
	accountID := record.AccountID
	var alerts []Alert

	heartbeatAt, seen := h.heartbeats.Last(accountID)
	var heartbeatPtr *time.Time
	if seen {
		at := heartbeatAt
		heartbeatPtr = &at
	}
	heartbeatOk := record.ConnectionStatus == session.StatusConnected
	if heartbeatOk && h.thresholds.HeartbeatStale > 0 {
		// Before the first heartbeat the process start is the baseline, so a
		// fresh boot does not alert while the watcher warms up.
		baseline := h.startedAt
		if seen {
			baseline = heartbeatAt
		}
		if age := now.Sub(baseline); age > h.thresholds.HeartbeatStale {
			heartbeatOk = false
			alerts = append(alerts, Alert{
				AccountID: accountID,
				Level:     HealthWarning,
				Code:      "heartbeat_stale",
				Message:   fmt.Sprintf("no heartbeat for %s", age.Round(time.Second)),
				Action:    "check the bridge sidecar and its connection to the remote service",
			})
		}
	}

	switch {
	case record.ConnectionStatus == session.StatusCorrupt,
		record.Integrity.ValidationStatus == session.ValidationCorrupt:
		alerts = append(alerts, Alert{
			AccountID: accountID,
			Level:     HealthCritical,
			Code:      "credential_corrupt",
			Message:   "stored credential failed its integrity check",
			Action:    "restore from a backup or re-authenticate the account",
		})
	case record.ConnectionStatus == session.StatusQRRequired:
		alerts = append(alerts, Alert{
			AccountID: accountID,
			Level:     HealthCritical,
			Code:      "qr_required",
			Message:   "session requires manual re-authentication",
			Action:    "scan a fresh QR code for this account",
		})
	case record.ConnectionStatus == session.StatusMaxRetries:
		alerts = append(alerts, Alert{
			AccountID: accountID,
			Level:     HealthCritical,
			Code:      "reconnect_exhausted",
			Message:   fmt.Sprintf("automatic reconnect gave up after %d attempts", record.Reconnect.Attempts),
			Action:    "resolve the underlying failure, then reset the session to re-enter the reconnect pool",
		})
	case record.ConnectionStatus != session.StatusConnected || record.ConsecutiveFailures > 0:
		message := "session offline, automatic reconnect in progress"
		if record.DisconnectReason != "" {
			message = fmt.Sprintf("session offline (%s), automatic reconnect in progress", record.DisconnectReason)
		}
		alerts = append(alerts, Alert{
			AccountID: accountID,
			Level:     HealthWarning,
			Code:      "reconnecting",
			Message:   message,
			Action:    "monitor; no action needed unless it escalates",
		})
	}

	if h.thresholds.AttemptWarn > 0 && record.Reconnect.Attempts >= h.thresholds.AttemptWarn &&
		record.ConnectionStatus != session.StatusConnected {
		alerts = append(alerts, Alert{
			AccountID: accountID,
			Level:     HealthCritical,
			Code:      "attempts_near_cap",
			Message:   fmt.Sprintf("%d reconnect attempts burned", record.Reconnect.Attempts),
			Action:    "investigate the failure before automatic reconnect exhausts itself",
		})
	}

	if h.thresholds.CredentialMaxAge > 0 && record.Integrity.LastValidatedAt != nil {
		if age := now.Sub(*record.Integrity.LastValidatedAt); age > h.thresholds.CredentialMaxAge {
			alerts = append(alerts, Alert{
				AccountID: accountID,
				Level:     HealthWarning,
				Code:      "credential_stale",
				Message:   fmt.Sprintf("stored credential last written %d days ago", int(age.Hours()/24)),
				Action:    "re-authenticate to refresh the stored credential before the remote side expires it",
			})
		}
	}

	level := HealthOK
	for _, alert := range alerts {
		level = worseOf(level, alert.Level)
	}

	lockedBy := ""
	if holder, err := h.locks.Holder(ctx, accountID); err == nil {
		lockedBy = holder
	}

	return AccountHealth{
		AccountID:           accountID,
		Level:               level,
		Status:              record.ConnectionStatus,
		DisconnectReason:    record.DisconnectReason,
		ConsecutiveFailures: record.ConsecutiveFailures,
		ReconnectAttempts:   record.Reconnect.Attempts,
		BackoffSeconds:      record.Reconnect.BackoffSeconds,
		NextAttemptAt:       record.Reconnect.NextAttemptAt,
		LastConnectedAt:     record.LastConnectedAt,
		LastDisconnectedAt:  record.LastDisconnectedAt,
		HeartbeatAt:         heartbeatPtr,
		HeartbeatOk:         heartbeatOk,
		LockedBy:            lockedBy,
		ValidationStatus:    record.Integrity.ValidationStatus,
	}, alerts
}

// statusRank orders connection statuses from healthy to dead for the
// aggregate state field.
func statusRank(status session.ConnectionStatus) int {
	switch status {
	case session.StatusConnected:
		return 0
	case session.StatusConnecting:
		return 1
	case session.StatusReconnecting:
		return 2
	case session.StatusDisconnected:
		return 3
	case session.StatusQRRequired:
		return 4
	case session.StatusMaxRetries:
		return 5
	case session.StatusCorrupt:
		return 6
	}
	return 3
}

func worseOf(a, b HealthLevel) HealthLevel {
	rank := map[HealthLevel]int{HealthOK: 0, HealthWarning: 1, HealthCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

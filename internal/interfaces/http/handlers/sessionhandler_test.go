package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appSession "github.com/wakeeper/wakeeper/internal/application/session"
	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

type stubRepository struct {
	records []*session.Session
}

func (s *stubRepository) Save(ctx context.Context, accountID string, auth session.AuthState, meta session.SaveMeta) (string, error) {
	return "", nil
}

func (s *stubRepository) Load(ctx context.Context, accountID string) (*session.Session, error) {
	return nil, nil
}

func (s *stubRepository) UpdateConnectionStatus(ctx context.Context, accountID string, status session.ConnectionStatus, reason string) error {
	return nil
}

func (s *stubRepository) RecordReconnectAttempt(ctx context.Context, accountID string) (*session.AttemptState, error) {
	return nil, nil
}

func (s *stubRepository) ListReconnectCandidates(ctx context.Context) ([]*session.Session, error) {
	return nil, nil
}

func (s *stubRepository) MarkValidation(ctx context.Context, accountID string, status session.ValidationStatus) error {
	return nil
}

func (s *stubRepository) List(ctx context.Context) ([]*session.Session, error) {
	return s.records, nil
}

type stubLocks struct{}

func (stubLocks) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (stubLocks) Release(ctx context.Context, accountID string) error { return nil }

func (stubLocks) Holder(ctx context.Context, accountID string) (string, error) { return "", nil }

func record(accountID string, status session.ConnectionStatus) *session.Session {
	auth := session.AuthState{CredentialBlob: []byte(`{"clientId":"` + accountID + `"}`), Version: "2.3001.0"}
	return &session.Session{
		AccountID:        accountID,
		AuthState:        auth,
		ConnectionStatus: status,
		Integrity: session.Integrity{
			Checksum:         session.Checksum(auth),
			ValidationStatus: session.ValidationValid,
		},
	}
}

func setupRouter(records ...*session.Session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	health := appSession.NewHealthService(
		&stubRepository{records: records},
		stubLocks{},
		appSession.NewHeartbeatTracker(),
		appSession.NewBreaker(5, time.Minute),
		appSession.HealthThresholds{
			HeartbeatStale:   time.Minute,
			CredentialMaxAge: 30 * 24 * time.Hour,
			AttemptWarn:      8,
		},
	)
	handler := NewSessionHandler(health, logger.NewLogger())

	engine := gin.New()
	engine.GET("/session/health", handler.Health)
	engine.GET("/session/observe", handler.Observe)
	engine.GET("/session/alerts", handler.Alerts)
	return engine
}

func TestHealth_AllConnectedReturns200(t *testing.T) {
	engine := setupRouter(record("acct-1", session.StatusConnected))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session/health", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, string(session.StatusConnected), body["state"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, true, body["heartbeatOk"])
	assert.Equal(t, float64(0), body["alertCount"])
	assert.Contains(t, body, "uptimeMs")
}

func TestHealth_CriticalReturns503(t *testing.T) {
	engine := setupRouter(
		record("acct-1", session.StatusConnected),
		record("acct-2", session.StatusMaxRetries),
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session/health", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "critical", body["status"])
	assert.Equal(t, string(session.StatusMaxRetries), body["state"])
	assert.Equal(t, false, body["connected"])
}

func TestObserve_ReturnsPerAccountProjection(t *testing.T) {
	engine := setupRouter(
		record("acct-1", session.StatusConnected),
		record("acct-2", session.StatusReconnecting),
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session/observe", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var report appSession.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Len(t, report.Accounts, 2)
	assert.Equal(t, appSession.HealthWarning, report.Level)
	assert.Equal(t, 1, report.Counts[string(session.StatusReconnecting)])
}

func TestAlerts_ListsOnlyUnhealthySessions(t *testing.T) {
	engine := setupRouter(
		record("acct-up", session.StatusConnected),
		record("acct-dead", session.StatusQRRequired),
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session/alerts", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body appSession.AlertReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, appSession.HealthCritical, body.Level)
	alert := body.Alerts[0]
	assert.Equal(t, "acct-dead", alert.AccountID)
	assert.Equal(t, appSession.HealthCritical, alert.Level)
	assert.Equal(t, "qr_required", alert.Code)
	assert.NotEmpty(t, alert.Message)
	assert.NotEmpty(t, alert.Action)
}

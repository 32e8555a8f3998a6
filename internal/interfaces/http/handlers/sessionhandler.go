package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appSession "github.com/wakeeper/wakeeper/internal/application/session"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// SessionHandler exposes the read-only session observability surface. None
// of these endpoints mutate reconnect state; they are projections over the
// durable store.
type SessionHandler struct {
	health *appSession.HealthService
	logger logger.Interface
}

func NewSessionHandler(health *appSession.HealthService, log logger.Interface) *SessionHandler {
	return &SessionHandler{
		health: health,
		logger: log.Named("session-handler"),
	}
}

// Health is the probe endpoint: 200 while the engine can make progress, 503
// once any session needs an operator or the breaker is open.
func (h *SessionHandler) Health(c *gin.Context) {
	report, err := h.health.Report(c.Request.Context())
	if err != nil {
		h.logger.Errorw("health report failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "health report unavailable"})
		return
	}

	status := http.StatusOK
	if report.Level == appSession.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	// The field names here are the contract external dashboards consume.
	c.JSON(status, gin.H{
		"status":      report.Level,
		"state":       report.State,
		"connected":   report.Connected,
		"heartbeatOk": report.HeartbeatOk,
		"alertCount":  report.AlertCount,
		"uptimeMs":    report.UptimeMs,
	})
}

// Observe returns the full per-account projection.
func (h *SessionHandler) Observe(c *gin.Context) {
	report, err := h.health.Report(c.Request.Context())
	if err != nil {
		h.logger.Errorw("observe report failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Alerts returns only the conditions needing attention, each with a stable
// code and a suggested action.
func (h *SessionHandler) Alerts(c *gin.Context) {
	report, err := h.health.Alerts(c.Request.Context())
	if err != nil {
		h.logger.Errorw("alert projection failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alerts unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Package http wires the gin engine for the observability surface.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wakeeper/wakeeper/internal/interfaces/http/handlers"
	"github.com/wakeeper/wakeeper/internal/interfaces/http/middleware"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
	"github.com/wakeeper/wakeeper/internal/shared/version"
)

type Router struct {
	engine         *gin.Engine
	sessionHandler *handlers.SessionHandler
	gatherer       prometheus.Gatherer
	logger         logger.Interface
}

// NewRouter builds the observability surface. The gatherer must be the same
// registry the engine's metrics are registered on; nil falls back to the
// default gatherer.
func NewRouter(sessionHandler *handlers.SessionHandler, gatherer prometheus.Gatherer, log logger.Interface) *Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Router{
		engine:         gin.New(),
		sessionHandler: sessionHandler,
		gatherer:       gatherer,
		logger:         log,
	}
}

// SetupRoutes configures all HTTP routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Logger(r.logger))
	r.engine.Use(middleware.Recovery(r.logger))

	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.engine.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{"version": version.Version})
	})

	sessions := r.engine.Group("/session")
	{
		sessions.GET("/health", r.sessionHandler.Health)
		sessions.GET("/observe", r.sessionHandler.Observe)
		sessions.GET("/alerts", r.sessionHandler.Alerts)
		sessions.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			r.gatherer,
			promhttp.HandlerOpts{},
		)))
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

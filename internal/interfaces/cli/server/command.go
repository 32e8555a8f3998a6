// Package server implements the main serve command: the durable store, the
// reconnect orchestrator, and the observability HTTP surface in one process.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appSession "github.com/wakeeper/wakeeper/internal/application/session"
	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/cache"
	"github.com/wakeeper/wakeeper/internal/infrastructure/config"
	"github.com/wakeeper/wakeeper/internal/infrastructure/database"
	"github.com/wakeeper/wakeeper/internal/infrastructure/recovery"
	"github.com/wakeeper/wakeeper/internal/infrastructure/repository"
	"github.com/wakeeper/wakeeper/internal/infrastructure/waclient"
	httpRouter "github.com/wakeeper/wakeeper/internal/interfaces/http"
	"github.com/wakeeper/wakeeper/internal/interfaces/http/handlers"
	"github.com/wakeeper/wakeeper/internal/shared/goroutine"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

var (
	env         string
	autoMigrate bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the session keeper",
		Long:  `Start the session durability engine: boot rehydration, reconnect orchestration, and the read-only observability HTTP surface.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Run schema migration on startup")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.NewLogger()
	log.Infow("starting wakeeper", "environment", env, "auto_migrate", autoMigrate)

	gin.SetMode(mapEnvToGinMode(env))
	gin.DefaultWriter = io.Discard

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if autoMigrate {
		if err := database.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Infow("schema migration completed")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Infow("redis connection established", "address", cfg.Redis.GetAddr())

	policy := repository.ReconnectPolicy{
		BackoffInitialSeconds: cfg.Session.BackoffInitialSeconds,
		BackoffCapSeconds:     cfg.Session.BackoffCapSeconds,
		MaxAttempts:           cfg.Session.MaxReconnectAttempts,
	}
	sessionRepo := repository.NewWaSessionRepository(database.Get(), policy, log)
	eventRepo := repository.NewSessionEventRepository(database.Get(), log)
	backupRepo := repository.NewSessionBackupRepository(database.Get(), log)

	// Each process instance gets its own lease identity.
	ownerID := fmt.Sprintf("wakeeper-%s", uuid.NewString()[:8])
	locks := cache.NewRedisSessionLock(redisClient, ownerID, "reconnect")

	recoverer := recovery.New(sessionRepo, backupRepo, eventRepo, recovery.Options{
		BackupKeep:  cfg.Recovery.BackupKeep,
		SnapshotDir: cfg.Recovery.SnapshotDir,
	}, log)

	outageQueue := recovery.NewOutageQueue(cfg.Recovery.OutageQueueDir, log)
	replayOutageQueue(outageQueue, sessionRepo, log)

	// Status and validation writes survive store outages via the local queue.
	store := recovery.NewResilientStore(sessionRepo, outageQueue, log)

	bridge := waclient.NewBridgeClient(&cfg.Bridge, log)

	breaker := appSession.NewBreaker(cfg.Session.BreakerThreshold, cfg.Session.BreakerCooldown())
	registry := prometheus.NewRegistry()
	metrics := appSession.NewMetrics(registry)
	heartbeats := appSession.NewHeartbeatTracker()
	orchestrator := appSession.NewOrchestrator(
		store, eventRepo, locks, bridge, recoverer,
		breaker, metrics, heartbeats, cfg.Session, log,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	goroutine.SafeGo(log, "orchestrator", func() {
		if err := orchestrator.Run(runCtx); err != nil && err != context.Canceled {
			log.Errorw("orchestrator stopped", "error", err)
		}
	})
	goroutine.SafeGo(log, "bridge-watch", func() {
		bridge.Watch(runCtx)
	})
	goroutine.SafeGo(log, "status-metrics", func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				orchestrator.RefreshStatusMetrics(runCtx)
			}
		}
	})

	health := appSession.NewHealthService(sessionRepo, locks, heartbeats, breaker, appSession.HealthThresholds{
		HeartbeatStale:   cfg.Session.HeartbeatStale(),
		CredentialMaxAge: time.Duration(cfg.Recovery.CredentialMaxAgeDays) * 24 * time.Hour,
		AttemptWarn:      cfg.Session.AttemptWarnThreshold,
	})
	router := httpRouter.NewRouter(handlers.NewSessionHandler(health, log), registry, log)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	goroutine.SafeGo(log, "http-server", func() {
		log.Infow("http server starting", "address", cfg.Server.GetAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server failed", "error", err)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	cancel()

	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.Session.ShutdownGrace())
	defer graceCancel()

	if err := orchestrator.Shutdown(graceCtx); err != nil {
		log.Warnw("shutdown save incomplete", "error", err)
	}
	if err := srv.Shutdown(graceCtx); err != nil {
		log.Errorw("http server forced to shutdown", "error", err)
		return err
	}

	log.Infow("wakeeper exited gracefully")
	return nil
}

// replayOutageQueue drains mutations parked on disk while the durable store
// was unreachable.
func replayOutageQueue(queue *recovery.OutageQueue, repo session.Repository, log logger.Interface) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	replayed, err := queue.Replay(ctx, func(ctx context.Context, op recovery.PendingOperation) error {
		return recovery.ApplyPending(ctx, repo, op)
	})
	if err != nil {
		log.Warnw("outage queue replay incomplete", "replayed", replayed, "error", err)
		return
	}
	if replayed > 0 {
		log.Infow("outage queue drained", "operations", replayed)
	}
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production", "prod", "release":
		return "release"
	case "test", "testing":
		return "test"
	default:
		return "debug"
	}
}

// The maintenance worker runs the housekeeping that should not compete with
// the reconnect engine for time: periodic credential backups for connected
// sessions and audit trail pruning.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/config"
	"github.com/wakeeper/wakeeper/internal/infrastructure/database"
	"github.com/wakeeper/wakeeper/internal/infrastructure/recovery"
	"github.com/wakeeper/wakeeper/internal/infrastructure/repository"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

func main() {
	env := "development"
	if len(os.Args) > 1 {
		env = os.Args[1]
	}
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger()
	log.Infow("starting session maintenance worker", "environment", env)

	if err := database.Init(&cfg.Database); err != nil {
		log.Errorw("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	policy := repository.ReconnectPolicy{
		BackoffInitialSeconds: cfg.Session.BackoffInitialSeconds,
		BackoffCapSeconds:     cfg.Session.BackoffCapSeconds,
		MaxAttempts:           cfg.Session.MaxReconnectAttempts,
	}
	sessionRepo := repository.NewWaSessionRepository(database.Get(), policy, log)
	eventRepo := repository.NewSessionEventRepository(database.Get(), log)
	backupRepo := repository.NewSessionBackupRepository(database.Get(), log)

	recoverer := recovery.New(sessionRepo, backupRepo, eventRepo, recovery.Options{
		BackupKeep:  cfg.Recovery.BackupKeep,
		SnapshotDir: cfg.Recovery.SnapshotDir,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	log.Infow("running initial maintenance pass")
	runMaintenance(ctx, sessionRepo, eventRepo, recoverer, cfg.Session.EventRetentionDays, log)

	log.Infow("maintenance worker started, running every 15 minutes")
	for {
		select {
		case <-ticker.C:
			runMaintenance(ctx, sessionRepo, eventRepo, recoverer, cfg.Session.EventRetentionDays, log)

		case sig := <-sigChan:
			log.Infow("received signal, shutting down", "signal", sig)

			finalCtx, finalCancel := context.WithTimeout(context.Background(), 30*time.Second)
			runMaintenance(finalCtx, sessionRepo, eventRepo, recoverer, cfg.Session.EventRetentionDays, log)
			finalCancel()

			log.Infow("maintenance worker stopped")
			return
		}
	}
}

// runMaintenance backs up every connected session's credential and trims the
// audit trail to the retention window.
func runMaintenance(
	ctx context.Context,
	sessions session.Repository,
	events session.EventRepository,
	recoverer *recovery.Recovery,
	retentionDays int,
	log logger.Interface,
) {
	records, err := sessions.List(ctx)
	if err != nil {
		log.Errorw("failed to list sessions", "error", err)
		return
	}

	backed := 0
	for _, record := range records {
		if record.ConnectionStatus != session.StatusConnected || !record.HasValidCredential() {
			continue
		}
		if err := recoverer.Backup(ctx, record.AccountID, record.AuthState); err != nil {
			log.Warnw("backup failed", "account_id", record.AccountID, "error", err)
			continue
		}
		backed++
	}

	if retentionDays > 0 {
		cutoff := biztime.NowUTC().AddDate(0, 0, -retentionDays)
		pruned, err := events.PruneOlderThan(ctx, cutoff)
		if err != nil {
			log.Warnw("event pruning failed", "error", err)
		} else if pruned > 0 {
			log.Infow("audit events pruned", "count", pruned)
		}
	}

	log.Infow("maintenance pass complete", "sessions", len(records), "backed_up", backed)
}

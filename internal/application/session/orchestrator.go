// Package session implements the application services around session
// durability: the boot rehydration and reconnect orchestrator, the global
// circuit breaker, and the read-only health projection.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/recovery"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	sharedConfig "github.com/wakeeper/wakeeper/internal/shared/config"
	"github.com/wakeeper/wakeeper/internal/shared/goroutine"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
	"github.com/wakeeper/wakeeper/internal/shared/version"
)

// Credentials written by clients older than this are still accepted, but the
// bridge may force a fresh QR scan on them.
const minCredentialVersion = "2.0.0"

// CredentialRecoverer restores a corrupt credential from secondary sources
// and snapshots healthy ones.
type CredentialRecoverer interface {
	RecoverCorruptSession(ctx context.Context, accountID string) (*recovery.Result, error)
	Backup(ctx context.Context, accountID string, auth session.AuthState) error
}

// Orchestrator owns the reconnect state machine: it rehydrates persisted
// sessions at boot, schedules reconnect attempts with bounded backoff under
// a per-account lease, consumes client lifecycle events, and trips a global
// circuit breaker when failures run away.
type Orchestrator struct {
	sessions   session.Repository
	events     session.EventRepository
	locks      session.LockManager
	client     session.Client
	recovery   CredentialRecoverer
	breaker    *Breaker
	metrics    *Metrics
	heartbeats *HeartbeatTracker
	cfg        sharedConfig.SessionConfig
	logger     logger.Interface

	queue chan string

	mu       sync.Mutex
	enqueued map[string]bool

	wg sync.WaitGroup
}

func NewOrchestrator(
	sessions session.Repository,
	events session.EventRepository,
	locks session.LockManager,
	client session.Client,
	recoverer CredentialRecoverer,
	breaker *Breaker,
	metrics *Metrics,
	heartbeats *HeartbeatTracker,
	cfg sharedConfig.SessionConfig,
	log logger.Interface,
) *Orchestrator {
	return &Orchestrator{
		sessions:   sessions,
		events:     events,
		locks:      locks,
		client:     client,
		recovery:   recoverer,
		breaker:    breaker,
		metrics:    metrics,
		heartbeats: heartbeats,
		cfg:        cfg,
		logger:     log.Named("session-orchestrator"),
		queue:      make(chan string, 256),
		enqueued:   make(map[string]bool),
	}
}

// Run starts the orchestrator and blocks until ctx is cancelled. It performs
// the boot sweep after a short stabilization delay, then serves the reconnect
// queue with a bounded worker pool while a single loop consumes client
// lifecycle events.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Let the process settle before touching the network. Connecting in the
	// first instants after a restart tends to race the bridge's own startup.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.cfg.Stabilization()):
	}

	if err := o.bootSweep(ctx); err != nil {
		o.logger.Errorw("boot sweep failed", "error", err)
	}

	for i := 0; i < o.cfg.ReconnectConcurrency; i++ {
		o.wg.Add(1)
		goroutine.SafeGo(o.logger, fmt.Sprintf("reconnect-worker-%d", i), func() {
			defer o.wg.Done()
			o.worker(ctx)
		})
	}

	o.wg.Add(1)
	goroutine.SafeGo(o.logger, "lifecycle-consumer", func() {
		defer o.wg.Done()
		o.consumeLifecycle(ctx)
	})

	o.wg.Add(1)
	goroutine.SafeGo(o.logger, "event-pruner", func() {
		defer o.wg.Done()
		o.pruneLoop(ctx)
	})

	<-ctx.Done()
	o.wg.Wait()
	return ctx.Err()
}

// bootSweep loads every reconnect-eligible session from the durable store and
// queues it. Corrupt records and records past the attempt cap never come back
// from the repository query.
func (o *Orchestrator) bootSweep(ctx context.Context) error {
	candidates, err := o.sessions.ListReconnectCandidates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reconnect candidates: %w", err)
	}

	o.logger.Infow("boot sweep", "candidates", len(candidates))
	for _, candidate := range candidates {
		if !candidate.HasValidCredential() {
			o.logger.Warnw("candidate has no usable credential, requires re-authentication",
				"account_id", candidate.AccountID)
			if err := o.sessions.UpdateConnectionStatus(ctx, candidate.AccountID,
				session.StatusQRRequired, "missing_credential"); err != nil {
				o.logger.Errorw("failed to park credential-less session",
					"account_id", candidate.AccountID, "error", err)
			}
			continue
		}
		if version.IsOlderThan(candidate.AuthState.Version, minCredentialVersion) {
			o.logger.Warnw("credential written by an outdated client",
				"account_id", candidate.AccountID,
				"credential_version", candidate.AuthState.Version)
		}
		o.enqueue(candidate.AccountID)
	}
	return nil
}

// Enqueue requests a reconnect attempt for an account. Duplicate requests for
// an account already in the queue are collapsed.
func (o *Orchestrator) Enqueue(accountID string) {
	o.enqueue(accountID)
}

func (o *Orchestrator) enqueue(accountID string) {
	o.mu.Lock()
	if o.enqueued[accountID] {
		o.mu.Unlock()
		return
	}
	o.enqueued[accountID] = true
	o.mu.Unlock()

	select {
	case o.queue <- accountID:
	default:
		o.mu.Lock()
		delete(o.enqueued, accountID)
		o.mu.Unlock()
		o.logger.Warnw("reconnect queue full, dropping request", "account_id", accountID)
	}
}

func (o *Orchestrator) dequeue(accountID string) {
	o.mu.Lock()
	delete(o.enqueued, accountID)
	o.mu.Unlock()
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case accountID := <-o.queue:
			o.dequeue(accountID)
			if !o.waitForBreaker(ctx) {
				return
			}
			o.attempt(ctx, accountID)

			// Stagger between attempts so a mass reconnect after an outage
			// does not stampede the remote service.
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.Stagger()):
			}
		}
	}
}

// waitForBreaker blocks while the circuit breaker is open. It returns false
// only when ctx is cancelled.
func (o *Orchestrator) waitForBreaker(ctx context.Context) bool {
	for {
		until, open := o.breaker.BlockedUntil(biztime.NowUTC())
		if !open {
			return true
		}
		o.metrics.BreakerOpen.Set(1)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Until(until)):
		}
		if o.breaker.TryResume(biztime.NowUTC()) {
			o.metrics.BreakerOpen.Set(0)
			o.logger.Infow("circuit breaker closed, resuming reconnects")
			o.appendEvent(ctx, "", session.EventBreakerClosed, nil)
		}
	}
}

// attempt runs one full reconnect attempt for one account under its lease.
func (o *Orchestrator) attempt(ctx context.Context, accountID string) {
	acquired, err := o.locks.Acquire(ctx, accountID, o.cfg.LockTTL())
	if err != nil {
		o.logger.Errorw("lock acquisition failed", "account_id", accountID, "error", err)
		return
	}
	if !acquired {
		// Another worker or process owns this session right now.
		o.metrics.LockContention.Inc()
		o.logger.Debugw("session lease held elsewhere, skipping", "account_id", accountID)
		return
	}
	defer func() {
		if err := o.locks.Release(ctx, accountID); err != nil {
			o.logger.Warnw("lease release failed", "account_id", accountID, "error", err)
		}
	}()

	record, err := o.sessions.Load(ctx, accountID)
	if err != nil {
		o.logger.Errorw("failed to load session", "account_id", accountID, "error", err)
		return
	}

	if now := biztime.NowUTC(); !record.ReconnectDue(now) {
		// A duplicate enqueue can land inside the backoff window; do not
		// burn an attempt for it.
		o.requeueAfter(ctx, accountID, record.Reconnect.NextAttemptAt.Sub(now))
		return
	}

	state, err := o.sessions.RecordReconnectAttempt(ctx, accountID)
	if err != nil {
		o.logger.Errorw("failed to record reconnect attempt", "account_id", accountID, "error", err)
		return
	}
	o.logger.Infow("reconnect attempt",
		"account_id", accountID,
		"attempt", state.Attempts,
		"backoff_seconds", state.BackoffSeconds)

	if record.Integrity.ValidationStatus == session.ValidationCorrupt {
		o.metrics.CorruptionsFound.Inc()
		result, err := o.recovery.RecoverCorruptSession(ctx, accountID)
		if err != nil {
			o.logger.Errorw("recovery failed", "account_id", accountID, "error", err)
			o.failure(ctx, accountID, state)
			return
		}
		if !result.Success {
			// Escalated to re-authentication; nothing more to do here.
			return
		}
		o.metrics.Recoveries.WithLabelValues(string(result.Source)).Inc()
		if record, err = o.sessions.Load(ctx, accountID); err != nil {
			o.logger.Errorw("failed to reload recovered session", "account_id", accountID, "error", err)
			return
		}
	}

	if !record.HasValidCredential() {
		o.logger.Warnw("credential unusable, requires re-authentication", "account_id", accountID)
		if err := o.sessions.UpdateConnectionStatus(ctx, accountID,
			session.StatusQRRequired, "missing_credential"); err != nil {
			o.logger.Errorw("failed to update status", "account_id", accountID, "error", err)
		}
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout())
	defer cancel()

	start := biztime.NowUTC()
	initErr := o.client.Initialize(attemptCtx, accountID, record.AuthState)
	o.metrics.ReconnectDuration.Observe(biztime.NowUTC().Sub(start).Seconds())

	if initErr != nil {
		o.metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		o.logger.Warnw("reconnect attempt failed",
			"account_id", accountID, "attempt", state.Attempts, "error", initErr)
		// A timed-out init can leave a half-created session on the bridge.
		if err := o.client.Destroy(ctx, accountID); err != nil {
			o.logger.Debugw("bridge teardown failed", "account_id", accountID, "error", err)
		}
		o.failure(ctx, accountID, state)
		return
	}

	o.metrics.ReconnectAttempts.WithLabelValues("success").Inc()
	o.breaker.RecordSuccess()
	o.heartbeats.Record(accountID, biztime.NowUTC())
	if err := o.sessions.UpdateConnectionStatus(ctx, accountID, session.StatusConnected, ""); err != nil {
		o.logger.Errorw("failed to mark session connected", "account_id", accountID, "error", err)
		return
	}
	if err := o.recovery.Backup(ctx, accountID, record.AuthState); err != nil {
		o.logger.Warnw("post-connect backup failed", "account_id", accountID, "error", err)
	}
	o.logger.Infow("session reconnected", "account_id", accountID, "attempt", state.Attempts)
}

// failure books one failed attempt: feed the breaker, exhaust the session if
// it just burned its last attempt, otherwise schedule the next try after the
// recorded backoff.
func (o *Orchestrator) failure(ctx context.Context, accountID string, state *session.AttemptState) {
	if o.breaker.RecordFailure(biztime.NowUTC()) {
		o.metrics.BreakerOpen.Set(1)
		o.logger.Errorw("circuit breaker opened",
			"consecutive_failures", o.breaker.Failures(),
			"cooldown", o.cfg.BreakerCooldown())
		o.appendEvent(ctx, accountID, session.EventBreakerOpened, map[string]any{
			"consecutive_failures": o.breaker.Failures(),
		})
	}

	if state.Attempts >= o.cfg.MaxReconnectAttempts {
		o.logger.Errorw("reconnect attempts exhausted, manual action required",
			"account_id", accountID, "attempts", state.Attempts)
		if err := o.sessions.UpdateConnectionStatus(ctx, accountID,
			session.StatusMaxRetries, "max_retries_exhausted"); err != nil {
			o.logger.Errorw("failed to mark session exhausted", "account_id", accountID, "error", err)
		}
		o.appendEvent(ctx, accountID, session.EventReconnectExhausted, map[string]any{
			"attempts": state.Attempts,
		})
		return
	}

	o.requeueAfter(ctx, accountID, time.Until(state.NextAttemptAt))
}

// requeueAfter re-enqueues the account once its backoff window elapses.
func (o *Orchestrator) requeueAfter(ctx context.Context, accountID string, wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	o.wg.Add(1)
	goroutine.SafeGo(o.logger, "requeue-"+accountID, func() {
		defer o.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(wait):
			o.enqueue(accountID)
		}
	})
}

// consumeLifecycle is the single loop draining client lifecycle events. All
// client callbacks land here, so every transition is serialized and audited.
func (o *Orchestrator) consumeLifecycle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-o.client.Events():
			if !ok {
				return
			}
			o.handleLifecycle(ctx, event)
		}
	}
}

func (o *Orchestrator) handleLifecycle(ctx context.Context, event session.LifecycleEvent) {
	switch event.Kind {
	case session.LifecycleReady, session.LifecycleAuthenticated:
		// Initialize's success path already persisted connected status.
		o.heartbeats.Record(event.AccountID, event.At)

	case session.LifecycleHeartbeat:
		o.heartbeats.Record(event.AccountID, event.At)

	case session.LifecycleQRRequired:
		o.logger.Warnw("session requires QR re-authentication", "account_id", event.AccountID)
		if err := o.sessions.UpdateConnectionStatus(ctx, event.AccountID,
			session.StatusQRRequired, "qr_required"); err != nil {
			o.logger.Errorw("failed to update status", "account_id", event.AccountID, "error", err)
		}

	case session.LifecycleAuthFailure:
		o.logger.Warnw("authentication failure", "account_id", event.AccountID, "reason", event.Reason)
		o.disconnect(ctx, event.AccountID, event.Reason)

	case session.LifecycleDisconnected:
		o.logger.Warnw("session disconnected", "account_id", event.AccountID, "reason", event.Reason)
		o.disconnect(ctx, event.AccountID, event.Reason)
	}
}

// disconnect persists a disconnect and, for non-terminal reasons only, queues
// an automatic reconnect. An explicit logout or identity conflict is final:
// the stored credential is dead and only a fresh QR scan can revive it.
func (o *Orchestrator) disconnect(ctx context.Context, accountID, reason string) {
	status := session.StatusDisconnected
	if session.IsTerminalDisconnect(reason) {
		status = session.StatusQRRequired
	}
	if err := o.sessions.UpdateConnectionStatus(ctx, accountID, status, reason); err != nil {
		o.logger.Errorw("failed to persist disconnect", "account_id", accountID, "error", err)
		return
	}
	if status == session.StatusDisconnected {
		o.enqueue(accountID)
	}
}

// pruneLoop trims the audit trail once a day.
func (o *Orchestrator) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	o.pruneEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pruneEvents(ctx)
		}
	}
}

func (o *Orchestrator) pruneEvents(ctx context.Context) {
	if o.cfg.EventRetentionDays <= 0 {
		return
	}
	cutoff := biztime.NowUTC().AddDate(0, 0, -o.cfg.EventRetentionDays)
	pruned, err := o.events.PruneOlderThan(ctx, cutoff)
	if err != nil {
		o.logger.Warnw("event pruning failed", "error", err)
		return
	}
	if pruned > 0 {
		o.logger.Infow("audit events pruned", "count", pruned)
	}
}

// Shutdown snapshots every connected session's credential before the process
// exits, bounded by the configured grace period.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	records, err := o.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions for shutdown save: %w", err)
	}

	for _, record := range records {
		if record.ConnectionStatus != session.StatusConnected || !record.HasValidCredential() {
			continue
		}
		if err := ctx.Err(); err != nil {
			o.logger.Warnw("shutdown grace expired before all sessions were saved")
			return err
		}
		if err := o.recovery.Backup(ctx, record.AccountID, record.AuthState); err != nil {
			o.logger.Warnw("shutdown backup failed", "account_id", record.AccountID, "error", err)
		}
	}
	o.logger.Infow("shutdown save complete")
	return nil
}

// RefreshStatusMetrics recomputes the per-status session gauges.
func (o *Orchestrator) RefreshStatusMetrics(ctx context.Context) {
	records, err := o.sessions.List(ctx)
	if err != nil {
		return
	}
	counts := map[session.ConnectionStatus]int{}
	for _, record := range records {
		counts[record.ConnectionStatus]++
	}
	for _, status := range []session.ConnectionStatus{
		session.StatusConnected, session.StatusConnecting, session.StatusDisconnected,
		session.StatusReconnecting, session.StatusQRRequired, session.StatusMaxRetries,
		session.StatusCorrupt,
	} {
		o.metrics.SessionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, accountID, eventType string, payload map[string]any) {
	if err := o.events.Append(ctx, accountID, eventType, payload); err != nil {
		o.logger.Warnw("failed to append audit event",
			"account_id", accountID, "event_type", eventType, "error", err)
	}
}

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/recovery"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	sharedConfig "github.com/wakeeper/wakeeper/internal/shared/config"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

type statusChange struct {
	accountID string
	status    session.ConnectionStatus
	reason    string
}

type fakeRepository struct {
	mu      sync.Mutex
	records map[string]*session.Session
	changes []statusChange
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[string]*session.Session)}
}

func (f *fakeRepository) seed(accountID string, status session.ConnectionStatus) *session.Session {
	auth := session.AuthState{CredentialBlob: []byte(`{"clientId":"` + accountID + `"}`), Version: "2.3001.0"}
	record := &session.Session{
		AccountID:        accountID,
		AuthState:        auth,
		ConnectionStatus: status,
		Integrity: session.Integrity{
			SchemaVersion:    1,
			Checksum:         session.Checksum(auth),
			ValidationStatus: session.ValidationValid,
		},
	}
	f.mu.Lock()
	f.records[accountID] = record
	f.mu.Unlock()
	return record
}

func (f *fakeRepository) Save(ctx context.Context, accountID string, auth session.AuthState, meta session.SaveMeta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	checksum := session.Checksum(auth)
	f.records[accountID] = &session.Session{
		AccountID:        accountID,
		AuthState:        auth,
		ConnectionStatus: session.StatusConnected,
		Integrity: session.Integrity{
			SchemaVersion:    meta.SchemaVersion,
			Checksum:         checksum,
			ValidationStatus: session.ValidationValid,
		},
	}
	return checksum, nil
}

func (f *fakeRepository) Load(ctx context.Context, accountID string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := *f.records[accountID]
	return &record, nil
}

func (f *fakeRepository) UpdateConnectionStatus(ctx context.Context, accountID string, status session.ConnectionStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, statusChange{accountID, status, reason})
	if record, ok := f.records[accountID]; ok {
		record.ConnectionStatus = status
		record.DisconnectReason = reason
	}
	return nil
}

func (f *fakeRepository) RecordReconnectAttempt(ctx context.Context, accountID string) (*session.AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[accountID]
	record.Reconnect.Attempts++
	record.Reconnect.BackoffSeconds = session.BackoffForAttempt(record.Reconnect.Attempts, 5, 300)
	record.ConnectionStatus = session.StatusReconnecting
	// Immediate retries keep the tests fast; the real store schedules
	// now+backoff.
	next := biztime.NowUTC()
	record.Reconnect.NextAttemptAt = &next
	return &session.AttemptState{
		Attempts:       record.Reconnect.Attempts,
		BackoffSeconds: record.Reconnect.BackoffSeconds,
		NextAttemptAt:  next,
	}, nil
}

func (f *fakeRepository) ListReconnectCandidates(ctx context.Context) ([]*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*session.Session
	for _, record := range f.records {
		if record.ConnectionStatus == session.StatusDisconnected ||
			record.ConnectionStatus == session.StatusReconnecting {
			clone := *record
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeRepository) MarkValidation(ctx context.Context, accountID string, status session.ValidationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[accountID].Integrity.ValidationStatus = status
	return nil
}

func (f *fakeRepository) List(ctx context.Context) ([]*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*session.Session
	for _, record := range f.records {
		clone := *record
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRepository) lastChange() (statusChange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.changes) == 0 {
		return statusChange{}, false
	}
	return f.changes[len(f.changes)-1], true
}

func (f *fakeRepository) attemptsFor(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[accountID].Reconnect.Attempts
}

type fakeEvents struct {
	mu       sync.Mutex
	appended []string
}

func (f *fakeEvents) Append(ctx context.Context, accountID, eventType string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, eventType)
	return nil
}

func (f *fakeEvents) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.appended...)
}

type fakeLocks struct {
	mu     sync.Mutex
	deny   map[string]bool
	held   map[string]bool
	holder map[string]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{
		deny:   make(map[string]bool),
		held:   make(map[string]bool),
		holder: make(map[string]string),
	}
}

func (f *fakeLocks) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[accountID] {
		return false, nil
	}
	f.held[accountID] = true
	return true, nil
}

func (f *fakeLocks) Release(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, accountID)
	return nil
}

func (f *fakeLocks) Holder(ctx context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holder[accountID], nil
}

type fakeClient struct {
	mu          sync.Mutex
	initErr     map[string]error
	initSeen    []string
	destroySeen []string
	events      chan session.LifecycleEvent
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		initErr: make(map[string]error),
		events:  make(chan session.LifecycleEvent, 16),
	}
}

func (f *fakeClient) Initialize(ctx context.Context, accountID string, auth session.AuthState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initSeen = append(f.initSeen, accountID)
	return f.initErr[accountID]
}

func (f *fakeClient) Destroy(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroySeen = append(f.destroySeen, accountID)
	return nil
}

func (f *fakeClient) destroyed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroySeen...)
}

func (f *fakeClient) Events() <-chan session.LifecycleEvent { return f.events }

type fakeRecoverer struct {
	mu        sync.Mutex
	result    *recovery.Result
	recovered []string
	backups   []string
	onRecover func()
}

func (f *fakeRecoverer) RecoverCorruptSession(ctx context.Context, accountID string) (*recovery.Result, error) {
	f.mu.Lock()
	f.recovered = append(f.recovered, accountID)
	hook := f.onRecover
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.result == nil {
		return &recovery.Result{Success: false}, nil
	}
	return f.result, nil
}

func (f *fakeRecoverer) Backup(ctx context.Context, accountID string, auth session.AuthState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backups = append(f.backups, accountID)
	return nil
}

func (f *fakeRecoverer) backedUp() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.backups...)
}

type orchestratorFixture struct {
	orch       *Orchestrator
	repo       *fakeRepository
	events     *fakeEvents
	locks      *fakeLocks
	client     *fakeClient
	recovery   *fakeRecoverer
	breaker    *Breaker
	heartbeats *HeartbeatTracker
}

func testSessionConfig() sharedConfig.SessionConfig {
	return sharedConfig.SessionConfig{
		BackoffInitialSeconds:  5,
		BackoffCapSeconds:      300,
		MaxReconnectAttempts:   10,
		ReconnectConcurrency:   2,
		StaggerMillis:          1,
		StabilizationMillis:    1,
		BreakerThreshold:       5,
		BreakerCooldownSeconds: 60,
		LockTTLSeconds:         90,
		AttemptTimeoutSeconds:  5,
		ShutdownGraceSeconds:   5,
		EventRetentionDays:     30,
	}
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	cfg := testSessionConfig()
	repo := newFakeRepository()
	events := &fakeEvents{}
	locks := newFakeLocks()
	client := newFakeClient()
	recoverer := &fakeRecoverer{}
	breaker := NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown())
	metrics := NewMetrics(prometheus.NewRegistry())
	heartbeats := NewHeartbeatTracker()

	orch := NewOrchestrator(repo, events, locks, client, recoverer, breaker, metrics, heartbeats, cfg, logger.NewLogger())
	return &orchestratorFixture{
		orch: orch, repo: repo, events: events, locks: locks,
		client: client, recovery: recoverer, breaker: breaker, heartbeats: heartbeats,
	}
}

func TestAttempt_SuccessMarksConnectedAndBacksUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-1", session.StatusDisconnected)

	f.orch.attempt(ctx, "acct-1")

	change, ok := f.repo.lastChange()
	require.True(t, ok)
	assert.Equal(t, session.StatusConnected, change.status)
	assert.Equal(t, []string{"acct-1"}, f.recovery.backedUp())
	assert.Zero(t, f.breaker.Failures())
	assert.Empty(t, f.locks.held, "lease released after the attempt")

	_, seen := f.heartbeats.Last("acct-1")
	assert.True(t, seen, "a successful connect counts as a heartbeat")
}

func TestLifecycle_HeartbeatUpdatesTracker(t *testing.T) {
	f := newFixture(t)
	at := biztime.NowUTC()

	f.orch.handleLifecycle(context.Background(), session.LifecycleEvent{
		AccountID: "acct-1",
		Kind:      session.LifecycleHeartbeat,
		At:        at,
	})

	got, seen := f.heartbeats.Last("acct-1")
	require.True(t, seen)
	assert.Equal(t, at, got)
}

func TestAttempt_LockHeldElsewhereSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-1", session.StatusDisconnected)
	f.locks.deny["acct-1"] = true

	f.orch.attempt(ctx, "acct-1")

	assert.Zero(t, f.repo.attemptsFor("acct-1"), "no attempt recorded without the lease")
	assert.Empty(t, f.client.initSeen)
}

func TestAttempt_FailureRequeuesAfterBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-1", session.StatusDisconnected)
	f.client.initErr["acct-1"] = assert.AnError

	f.orch.attempt(ctx, "acct-1")

	assert.Equal(t, 1, f.breaker.Failures())
	// The fake store schedules the next attempt immediately, so the requeue
	// goroutine lands the account back on the queue right away.
	require.Eventually(t, func() bool {
		select {
		case accountID := <-f.orch.queue:
			return accountID == "acct-1"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestAttempt_FailureTearsDownBridgeSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-1", session.StatusDisconnected)
	f.client.initErr["acct-1"] = assert.AnError

	f.orch.attempt(ctx, "acct-1")

	assert.Equal(t, []string{"acct-1"}, f.client.destroyed(),
		"a failed init must not leave a half-created session on the bridge")
}

func TestAttempt_InsideBackoffWindowReschedulesWithoutBurningAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.repo.seed("acct-1", session.StatusReconnecting)
	next := biztime.NowUTC().Add(30 * time.Millisecond)
	record.Reconnect.NextAttemptAt = &next

	f.orch.attempt(ctx, "acct-1")

	assert.Zero(t, f.repo.attemptsFor("acct-1"), "no attempt recorded inside the backoff window")
	assert.Empty(t, f.client.initSeen)
	require.Eventually(t, func() bool {
		select {
		case accountID := <-f.orch.queue:
			return accountID == "acct-1"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "the account comes back once its window elapses")
}

func TestAttempt_ExhaustionMarksMaxRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.repo.seed("acct-1", session.StatusReconnecting)
	record.Reconnect.Attempts = 9
	f.client.initErr["acct-1"] = assert.AnError

	f.orch.attempt(ctx, "acct-1")

	change, ok := f.repo.lastChange()
	require.True(t, ok)
	assert.Equal(t, session.StatusMaxRetries, change.status)
	assert.Contains(t, f.events.types(), session.EventReconnectExhausted)
}

func TestAttempt_CorruptSessionGoesThroughRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.repo.seed("acct-1", session.StatusDisconnected)
	record.Integrity.ValidationStatus = session.ValidationCorrupt

	restored := session.AuthState{CredentialBlob: []byte(`{"clientId":"acct-1","restored":true}`), Version: "2.3001.0"}
	f.recovery.result = &recovery.Result{Success: true, Source: recovery.SourceBackup, Auth: restored}
	f.recovery.onRecover = func() {
		_, err := f.repo.Save(ctx, "acct-1", restored, session.SaveMeta{SchemaVersion: 1})
		require.NoError(t, err)
	}

	f.orch.attempt(ctx, "acct-1")

	assert.Equal(t, []string{"acct-1"}, f.recovery.recovered)
	change, ok := f.repo.lastChange()
	require.True(t, ok)
	assert.Equal(t, session.StatusConnected, change.status)
	assert.Equal(t, []string{"acct-1"}, f.client.initSeen)
}

func TestAttempt_UnrecoverableCorruptionStopsQuietly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.repo.seed("acct-1", session.StatusDisconnected)
	record.Integrity.ValidationStatus = session.ValidationCorrupt
	f.recovery.result = &recovery.Result{Success: false}

	f.orch.attempt(ctx, "acct-1")

	assert.Empty(t, f.client.initSeen, "no connect attempt with a dead credential")
}

func TestLifecycle_TerminalDisconnectIsNeverRequeued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-1", session.StatusConnected)

	f.orch.handleLifecycle(ctx, session.LifecycleEvent{
		AccountID: "acct-1",
		Kind:      session.LifecycleDisconnected,
		Reason:    session.ReasonLoggedOut,
	})

	change, ok := f.repo.lastChange()
	require.True(t, ok)
	assert.Equal(t, session.StatusQRRequired, change.status)
	assert.Equal(t, session.ReasonLoggedOut, change.reason)
	select {
	case accountID := <-f.orch.queue:
		t.Fatalf("logged-out session %s must not be queued for reconnect", accountID)
	default:
	}
}

func TestLifecycle_TransientDisconnectIsRequeued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-1", session.StatusConnected)

	f.orch.handleLifecycle(ctx, session.LifecycleEvent{
		AccountID: "acct-1",
		Kind:      session.LifecycleDisconnected,
		Reason:    session.ReasonConnectionLost,
	})

	change, ok := f.repo.lastChange()
	require.True(t, ok)
	assert.Equal(t, session.StatusDisconnected, change.status)
	select {
	case accountID := <-f.orch.queue:
		assert.Equal(t, "acct-1", accountID)
	default:
		t.Fatal("transient disconnect must queue a reconnect")
	}
}

func TestBootSweep_ParksCredentiallessSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-good", session.StatusDisconnected)
	broken := f.repo.seed("acct-broken", session.StatusDisconnected)
	broken.AuthState = session.AuthState{}

	require.NoError(t, f.orch.bootSweep(ctx))

	queued := map[string]bool{}
	for {
		select {
		case accountID := <-f.orch.queue:
			queued[accountID] = true
			continue
		default:
		}
		break
	}
	assert.True(t, queued["acct-good"])
	assert.False(t, queued["acct-broken"])

	change, ok := f.repo.lastChange()
	require.True(t, ok)
	assert.Equal(t, statusChange{"acct-broken", session.StatusQRRequired, "missing_credential"}, change)
}

func TestEnqueue_CollapsesDuplicates(t *testing.T) {
	f := newFixture(t)

	f.orch.Enqueue("acct-1")
	f.orch.Enqueue("acct-1")
	f.orch.Enqueue("acct-1")

	assert.Len(t, f.orch.queue, 1)
}

func TestShutdown_BacksUpConnectedSessionsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.seed("acct-up", session.StatusConnected)
	f.repo.seed("acct-down", session.StatusDisconnected)

	require.NoError(t, f.orch.Shutdown(ctx))

	assert.Equal(t, []string{"acct-up"}, f.recovery.backedUp())
}

func TestRun_BreakerPausesWorkers(t *testing.T) {
	f := newFixture(t)
	now := biztime.NowUTC()
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure(now)
	}

	_, open := f.breaker.BlockedUntil(biztime.NowUTC())
	assert.True(t, open)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, f.orch.waitForBreaker(ctx), "cancelled ctx unblocks a paused worker")
}

package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/infrastructure/persistence/models"
	"github.com/wakeeper/wakeeper/internal/infrastructure/repository"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

type fixture struct {
	sessions session.Repository
	backups  session.BackupRepository
	events   session.EventRepository
	recovery *Recovery
	db       *gorm.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.WaSessionModel{},
		&models.SessionEventModel{},
		&models.SessionBackupModel{},
	))

	log := logger.NewLogger()
	policy := repository.ReconnectPolicy{BackoffInitialSeconds: 5, BackoffCapSeconds: 300, MaxAttempts: 10}
	sessions := repository.NewWaSessionRepository(db, policy, log)
	backups := repository.NewSessionBackupRepository(db, log)
	events := repository.NewSessionEventRepository(db, log)

	rec := New(sessions, backups, events, Options{
		BackupKeep:  5,
		SnapshotDir: t.TempDir(),
	}, log)

	return &fixture{sessions: sessions, backups: backups, events: events, recovery: rec, db: db}
}

func testAuth(marker string) session.AuthState {
	return session.AuthState{
		CredentialBlob: []byte(`{"clientId":"acct-1","marker":"` + marker + `"}`),
		Version:        "2.3001.0",
	}
}

func corruptStoredCredential(t *testing.T, db *gorm.DB, accountID string) {
	t.Helper()
	var model models.WaSessionModel
	require.NoError(t, db.Where("account_id = ?", accountID).First(&model).Error)
	model.CredentialBlob[0] ^= 0x01
	require.NoError(t, db.Model(&models.WaSessionModel{}).
		Where("account_id = ?", accountID).
		Update("credential_blob", model.CredentialBlob).Error)
}

func TestRecovery_RestoresFromVerifiedBackup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	auth := testAuth("good")
	_, err := f.sessions.Save(ctx, "acct-1", auth, session.SaveMeta{SchemaVersion: 1})
	require.NoError(t, err)
	require.NoError(t, f.recovery.Backup(ctx, "acct-1", auth))

	corruptStoredCredential(t, f.db, "acct-1")

	result, err := f.recovery.RecoverCorruptSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, SourceBackup, result.Source)
	assert.Equal(t, auth.CredentialBlob, result.Auth.CredentialBlob)

	restored, err := f.sessions.Load(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, session.ValidationValid, restored.Integrity.ValidationStatus)
	assert.Equal(t, auth.CredentialBlob, restored.AuthState.CredentialBlob)
}

func TestRecovery_RejectsCorruptedBackup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	good := testAuth("old-good")
	require.NoError(t, f.backups.Create(ctx, "acct-1", good, session.Checksum(good)))

	// A newer backup whose stored checksum no longer matches its blob: it
	// must be skipped in favor of the older verified one.
	bad := testAuth("newer-bad")
	require.NoError(t, f.backups.Create(ctx, "acct-1", bad, "deadbeef"))

	_, err := f.sessions.Save(ctx, "acct-1", testAuth("live"), session.SaveMeta{SchemaVersion: 1})
	require.NoError(t, err)
	corruptStoredCredential(t, f.db, "acct-1")

	result, err := f.recovery.RecoverCorruptSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, SourceBackup, result.Source)
	assert.Equal(t, good.CredentialBlob, result.Auth.CredentialBlob)
}

func TestRecovery_FallsBackToFilesystemSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	auth := testAuth("snapshot")
	_, err := f.sessions.Save(ctx, "acct-1", auth, session.SaveMeta{SchemaVersion: 1})
	require.NoError(t, err)
	require.NoError(t, f.recovery.WriteSnapshot("acct-1", auth))

	corruptStoredCredential(t, f.db, "acct-1")

	// No backups exist, so recovery must reach the filesystem tier.
	result, err := f.recovery.RecoverCorruptSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, SourceFilesystem, result.Source)
	assert.Equal(t, auth.CredentialBlob, result.Auth.CredentialBlob)
}

func TestRecovery_UnrecoverableRequiresReauth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.sessions.Save(ctx, "acct-1", testAuth("live"), session.SaveMeta{SchemaVersion: 1})
	require.NoError(t, err)
	corruptStoredCredential(t, f.db, "acct-1")

	result, err := f.recovery.RecoverCorruptSession(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, result.Success)

	var model models.WaSessionModel
	require.NoError(t, f.db.Where("account_id = ?", "acct-1").First(&model).Error)
	assert.Equal(t, string(session.StatusQRRequired), model.ConnectionStatus)
}

func TestRecovery_BackupRetention(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		auth := testAuth(string(rune('a' + i)))
		require.NoError(t, f.recovery.Backup(ctx, "acct-1", auth))
	}

	backups, err := f.backups.ListRecent(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 5)
}

func TestOutageQueue_EnqueueAndReplay(t *testing.T) {
	dir := t.TempDir()
	q := NewOutageQueue(dir, logger.NewLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue("acct-1", "save", map[string]any{"checksum": "abc"}))
	require.NoError(t, q.Enqueue("acct-1", "update_status", map[string]any{"status": "disconnected"}))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "save", pending[0].Operation)
	assert.Equal(t, "update_status", pending[1].Operation)

	var applied []string
	replayed, err := q.Replay(ctx, func(ctx context.Context, op PendingOperation) error {
		applied = append(applied, op.Operation)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)
	assert.Equal(t, []string{"save", "update_status"}, applied)

	pending, err = q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutageQueue_FailedReplayKeepsRemainder(t *testing.T) {
	dir := t.TempDir()
	q := NewOutageQueue(dir, logger.NewLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue("acct-1", "save", nil))
	require.NoError(t, q.Enqueue("acct-1", "update_status", nil))

	replayed, err := q.Replay(ctx, func(ctx context.Context, op PendingOperation) error {
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Zero(t, replayed)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2, "nothing is dropped when the store is still down")
}

func TestOutageQueue_EmptyDirIsFine(t *testing.T) {
	q := NewOutageQueue(filepath.Join(t.TempDir(), "never-created"), logger.NewLogger())

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = os.Stat(filepath.Join(t.TempDir(), "never-created"))
	assert.True(t, os.IsNotExist(err))
}

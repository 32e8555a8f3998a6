// Package recovery implements corruption recovery for persisted session
// credentials: verified backup replay first, a filesystem session image as
// the second tier, and escalation to credential re-issuance when neither
// source produces an intact credential.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// Source identifies where a recovered credential came from.
type Source string

const (
	SourceBackup     Source = "backup"
	SourceFilesystem Source = "filesystem"
)

// Result reports the outcome of a recovery attempt.
type Result struct {
	Success bool
	Source  Source
	Auth    session.AuthState
}

// Options tunes retention and filesystem locations.
type Options struct {
	BackupKeep  int
	SnapshotDir string
}

type Recovery struct {
	sessions session.Repository
	backups  session.BackupRepository
	events   session.EventRepository
	opts     Options
	logger   logger.Interface
}

func New(sessions session.Repository, backups session.BackupRepository, events session.EventRepository, opts Options, log logger.Interface) *Recovery {
	if opts.BackupKeep < 1 {
		opts.BackupKeep = 5
	}
	return &Recovery{
		sessions: sessions,
		backups:  backups,
		events:   events,
		opts:     opts,
		logger:   log.Named("session-recovery"),
	}
}

// Backup snapshots the current credential and prunes the per-account history
// down to the retention bound.
func (r *Recovery) Backup(ctx context.Context, accountID string, auth session.AuthState) error {
	checksum := session.Checksum(auth)
	if err := r.backups.Create(ctx, accountID, auth, checksum); err != nil {
		return err
	}
	if _, err := r.backups.PruneBeyond(ctx, accountID, r.opts.BackupKeep); err != nil {
		r.logger.Warnw("backup pruning failed", "account_id", accountID, "error", err)
	}
	return r.WriteSnapshot(accountID, auth)
}

// RecoverCorruptSession walks the recovery tiers for a session whose primary
// credential failed its integrity check. An unrecoverable session is moved to
// qr_required: the operator must re-authenticate.
func (r *Recovery) RecoverCorruptSession(ctx context.Context, accountID string) (*Result, error) {
	// Tier 1: newest backup that still verifies against its own checksum.
	// Silently-corrupted backups are rejected, not trusted.
	backups, err := r.backups.ListRecent(ctx, accountID, r.opts.BackupKeep)
	if err != nil {
		r.logger.Warnw("backup listing failed, trying filesystem tier",
			"account_id", accountID, "error", err)
	} else {
		for _, b := range backups {
			if !b.Verify() {
				r.logger.Warnw("skipping corrupted backup",
					"account_id", accountID, "backup_id", b.ID)
				continue
			}
			if err := r.restore(ctx, accountID, b.AuthState, SourceBackup); err != nil {
				return nil, err
			}
			return &Result{Success: true, Source: SourceBackup, Auth: b.AuthState}, nil
		}
	}

	// Tier 2: filesystem-resident session image.
	if auth, ok := r.readSnapshot(accountID); ok {
		if err := r.restore(ctx, accountID, auth, SourceFilesystem); err != nil {
			return nil, err
		}
		return &Result{Success: true, Source: SourceFilesystem, Auth: auth}, nil
	}

	// Tier 3: unrecoverable. Surface to the operator.
	r.logger.Errorw("session unrecoverable, re-authentication required", "account_id", accountID)
	if err := r.sessions.UpdateConnectionStatus(ctx, accountID, session.StatusQRRequired, "unrecoverable_corruption"); err != nil {
		return nil, err
	}
	return &Result{Success: false}, nil
}

func (r *Recovery) restore(ctx context.Context, accountID string, auth session.AuthState, source Source) error {
	if _, err := r.sessions.Save(ctx, accountID, auth, session.SaveMeta{SchemaVersion: 1}); err != nil {
		return fmt.Errorf("failed to restore session from %s: %w", source, err)
	}
	if err := r.events.Append(ctx, accountID, session.EventSessionRecovered, map[string]any{
		"source": string(source),
	}); err != nil {
		r.logger.Warnw("failed to record recovery event", "account_id", accountID, "error", err)
	}
	r.logger.Infow("session recovered", "account_id", accountID, "source", source)
	return nil
}

// snapshotImage is the on-disk session image format.
type snapshotImage struct {
	AccountID      string `json:"account_id"`
	CredentialBlob []byte `json:"credential_blob"`
	Version        string `json:"version"`
	Checksum       string `json:"checksum"`
	WrittenAt      string `json:"written_at"`
}

// WriteSnapshot persists a filesystem session image. The write goes through
// a temp file and rename so a crash mid-write cannot leave a torn image.
func (r *Recovery) WriteSnapshot(accountID string, auth session.AuthState) error {
	if r.opts.SnapshotDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.opts.SnapshotDir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	image := snapshotImage{
		AccountID:      accountID,
		CredentialBlob: auth.CredentialBlob,
		Version:        auth.Version,
		Checksum:       session.Checksum(auth),
		WrittenAt:      biztime.FormatMetadataTime(biztime.NowUTC()),
	}
	data, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	path := r.snapshotPath(accountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

func (r *Recovery) readSnapshot(accountID string) (session.AuthState, bool) {
	if r.opts.SnapshotDir == "" {
		return session.AuthState{}, false
	}
	data, err := os.ReadFile(r.snapshotPath(accountID))
	if err != nil {
		return session.AuthState{}, false
	}

	var image snapshotImage
	if err := json.Unmarshal(data, &image); err != nil {
		r.logger.Warnw("unreadable filesystem snapshot", "account_id", accountID, "error", err)
		return session.AuthState{}, false
	}

	auth := session.AuthState{CredentialBlob: image.CredentialBlob, Version: image.Version}
	if session.Checksum(auth) != image.Checksum {
		r.logger.Warnw("filesystem snapshot failed integrity check", "account_id", accountID)
		return session.AuthState{}, false
	}
	return auth, true
}

func (r *Recovery) snapshotPath(accountID string) string {
	return filepath.Join(r.opts.SnapshotDir, accountID+".json")
}

package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// PendingOperation is one durable-store mutation that could not be applied
// while the store was unreachable. It is parked on local disk and replayed
// once connectivity returns, rather than being dropped.
type PendingOperation struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload,omitempty"`
	QueuedAt  time.Time      `json:"queued_at"`
}

// OutageQueue is an on-disk marker-file queue, one JSON file per operation.
type OutageQueue struct {
	dir    string
	logger logger.Interface
}

func NewOutageQueue(dir string, log logger.Interface) *OutageQueue {
	return &OutageQueue{
		dir:    dir,
		logger: log.Named("outage-queue"),
	}
}

// Enqueue persists an operation for later replay.
func (q *OutageQueue) Enqueue(accountID, operation string, payload map[string]any) error {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create outage queue dir: %w", err)
	}

	op := PendingOperation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Operation: operation,
		Payload:   payload,
		QueuedAt:  biztime.NowUTC(),
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal pending operation: %w", err)
	}

	// Timestamp prefix keeps lexical order equal to enqueue order.
	name := fmt.Sprintf("%d-%s.json", op.QueuedAt.UnixNano(), op.ID)
	path := filepath.Join(q.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write pending operation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize pending operation: %w", err)
	}

	q.logger.Warnw("operation queued for replay",
		"account_id", accountID, "operation", operation)
	return nil
}

// Pending returns queued operations in enqueue order without consuming them.
func (q *OutageQueue) Pending() ([]PendingOperation, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read outage queue dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	ops := make([]PendingOperation, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(q.dir, name))
		if err != nil {
			q.logger.Warnw("unreadable pending operation", "file", name, "error", err)
			continue
		}
		var op PendingOperation
		if err := json.Unmarshal(data, &op); err != nil {
			q.logger.Warnw("malformed pending operation", "file", name, "error", err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Replay applies each pending operation in order. Successfully applied
// operations are removed; a failed apply stops the replay so ordering is
// preserved for the next pass.
func (q *OutageQueue) Replay(ctx context.Context, apply func(ctx context.Context, op PendingOperation) error) (int, error) {
	ops, err := q.Pending()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, op := range ops {
		if err := apply(ctx, op); err != nil {
			return replayed, fmt.Errorf("replay stopped at %s/%s: %w", op.AccountID, op.Operation, err)
		}
		name := fmt.Sprintf("%d-%s.json", op.QueuedAt.UnixNano(), op.ID)
		if err := os.Remove(filepath.Join(q.dir, name)); err != nil && !os.IsNotExist(err) {
			q.logger.Warnw("failed to remove replayed operation", "file", name, "error", err)
		}
		replayed++
	}

	if replayed > 0 {
		q.logger.Infow("outage queue replayed", "operations", replayed)
	}
	return replayed, nil
}

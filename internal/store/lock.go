package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchedulerLock is the single leader-election row.
type SchedulerLock struct {
	Holder      string    `json:"holder"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// AcquireLock tries to become leader. It first inserts the singleton row; if
// another instance holds it, it takes over only when that holder's heartbeat
// is older than timeout. Returns true when this holder is now the leader.
func (s *Store) AcquireLock(ctx context.Context, holder string, now time.Time, timeout time.Duration) (bool, error) {
	now = now.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_lock (id, holder, acquired_at, heartbeat_at)
		VALUES (1, ?, ?, ?)`, holder, now, now)
	if err == nil {
		return true, nil
	}
	if !strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		!strings.Contains(err.Error(), "PRIMARY KEY") {
		return false, fmt.Errorf("failed to insert scheduler lock: %w", err)
	}

	// Row exists: reclaim our own lock or take over an abandoned one.
	staleBefore := now.Add(-timeout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_lock
		SET holder = ?, acquired_at = ?, heartbeat_at = ?
		WHERE id = 1 AND (holder = ? OR heartbeat_at < ?)`,
		holder, now, now, holder, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to take over scheduler lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Heartbeat refreshes the lease. False means the lock was lost and the
// caller must demote itself.
func (s *Store) Heartbeat(ctx context.Context, holder string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_lock SET heartbeat_at = ? WHERE id = 1 AND holder = ?`,
		now.UTC(), holder)
	if err != nil {
		return false, fmt.Errorf("failed to heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseLock gives up leadership if still held.
func (s *Store) ReleaseLock(ctx context.Context, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduler_lock WHERE id = 1 AND holder = ?`, holder)
	if err != nil {
		return fmt.Errorf("failed to release scheduler lock: %w", err)
	}
	return nil
}

// CurrentLock returns the lock row, or nil when no instance is leader.
func (s *Store) CurrentLock(ctx context.Context) (*SchedulerLock, error) {
	var l SchedulerLock
	err := s.db.QueryRowContext(ctx,
		`SELECT holder, acquired_at, heartbeat_at FROM scheduler_lock WHERE id = 1`).
		Scan(&l.Holder, &l.AcquiredAt, &l.HeartbeatAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduler lock: %w", err)
	}
	return &l, nil
}

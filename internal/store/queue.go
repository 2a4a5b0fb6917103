package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skimmer/internal/core"
)

const queueColumns = `id, post_id, content_hash, priority, attempts,
	last_error, error_type, locked_at, cooldown_until, created_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (*core.QueueEntry, error) {
	var e core.QueueEntry
	var locked, cooldown sql.NullTime

	err := row.Scan(
		&e.ID, &e.PostID, &e.ContentHash, &e.Priority, &e.Attempts,
		&e.LastError, &e.ErrorType, &locked, &cooldown, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.LockedAt = timePtr(locked)
	e.CooldownUntil = timePtr(cooldown)
	return &e, nil
}

// Enqueue inserts a queue entry inside the ingest transaction. An existing
// entry for the post is left untouched.
func (tx *Tx) Enqueue(ctx context.Context, postID int64, hash string, priority int) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO summary_queue (post_id, content_hash, priority, created_at)
		VALUES (?, ?, ?, ?)`, postID, hash, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue post: %w", err)
	}
	return nil
}

// Requeue inserts or resets the entry for a post at the given priority,
// clearing attempts, locks and cooldowns. Used for user-requested
// regeneration.
func (s *Store) Requeue(ctx context.Context, postID int64, hash string, priority int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_queue (post_id, content_hash, priority, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			priority = excluded.priority, content_hash = excluded.content_hash,
			attempts = 0, last_error = '', error_type = '',
			locked_at = NULL, cooldown_until = NULL`,
		postID, hash, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to requeue post: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the highest-priority ready queue entry. The
// claim is a conditional UPDATE so two workers racing for the same entry
// cannot both win; a lost race returns (nil, nil) and the caller retries.
// Entries whose lease is older than lockTimeout count as abandoned and may
// be reclaimed.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, lockTimeout time.Duration) (*core.QueueEntry, error) {
	now = now.UTC()
	staleBefore := now.Add(-lockTimeout)

	entry, err := scanQueueEntry(s.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM summary_queue
		WHERE (locked_at IS NULL OR locked_at < ?)
		  AND (cooldown_until IS NULL OR cooldown_until < ?)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1`, staleBefore, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE summary_queue SET locked_at = ?
		WHERE id = ? AND (locked_at IS NULL OR locked_at < ?)`,
		now, entry.ID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to lock queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	entry.LockedAt = &now
	return entry, nil
}

// ReleaseQueueLock clears the lease without recording an attempt. Used when
// no API key is available.
func (s *Store) ReleaseQueueLock(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE summary_queue SET locked_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release queue lock: %w", err)
	}
	return nil
}

// RecordAttempt stores a failed attempt: increments the counter, records the
// error, releases the lease and optionally sets a cooldown.
func (s *Store) RecordAttempt(ctx context.Context, id int64, message, errorType string, cooldownUntil *time.Time) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE summary_queue
		SET attempts = attempts + 1, last_error = ?, error_type = ?,
		    locked_at = NULL, cooldown_until = ?
		WHERE id = ?`, message, errorType, nullTime(cooldownUntil), id)
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}

	var attempts int
	if err := s.db.QueryRowContext(ctx,
		`SELECT attempts FROM summary_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return attempts, nil
}

// CooldownEntry benches an entry until the given time and resets its
// attempt counter so retries start fresh afterwards.
func (s *Store) CooldownEntry(ctx context.Context, id int64, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE summary_queue
		SET cooldown_until = ?, attempts = 0, locked_at = NULL
		WHERE id = ?`, until.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to cool down queue entry: %w", err)
	}
	return nil
}

// DeleteQueueEntry removes a completed or abandoned entry.
func (s *Store) DeleteQueueEntry(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM summary_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

// DeleteQueueEntryByPost removes the entry for a post, if any.
func (s *Store) DeleteQueueEntryByPost(ctx context.Context, postID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM summary_queue WHERE post_id = ?`, postID)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

// PruneQueue drops entries whose post has been read; a read post no longer
// needs a summary. Deleted posts cascade away on their own.
func (s *Store) PruneQueue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM summary_queue
		WHERE post_id IN (SELECT id FROM posts WHERE is_read = 1)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearCooldowns lifts every cooldown so entries retry immediately.
func (s *Store) ClearCooldowns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE summary_queue SET cooldown_until = NULL WHERE cooldown_until IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cooldowns: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// BackfillQueue enqueues posts that have a content hash but no summary, no
// queue entry and no failure record, at background-lower priority. Returns
// how many were added.
func (s *Store) BackfillQueue(ctx context.Context, priority, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_queue (post_id, content_hash, priority, created_at)
		SELECT p.id, p.content_hash, ?, ?
		FROM posts p
		WHERE p.content_hash IS NOT NULL
		  AND p.is_read = 0
		  AND NOT EXISTS (SELECT 1 FROM ai_summaries s WHERE s.content_hash = p.content_hash)
		  AND NOT EXISTS (SELECT 1 FROM summary_queue q WHERE q.post_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM summary_failures f WHERE f.content_hash = p.content_hash)
		ORDER BY p.sort_date DESC
		LIMIT ?`, priority, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueueStats summarizes the queue for the admin endpoint.
type QueueStats struct {
	Total      int `json:"total"`
	Ready      int `json:"ready"`
	Locked     int `json:"locked"`
	CoolingOff int `json:"cooling_off"`
	Failures   int `json:"failures"`
}

// QueueStatus returns queue depth broken down by state.
func (s *Store) QueueStatus(ctx context.Context, now time.Time, lockTimeout time.Duration) (*QueueStats, error) {
	now = now.UTC()
	staleBefore := now.Add(-lockTimeout)

	var st QueueStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN (locked_at IS NULL OR locked_at < ?)
		                 AND (cooldown_until IS NULL OR cooldown_until < ?)
		            THEN 1 ELSE 0 END),
		       SUM(CASE WHEN locked_at >= ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN cooldown_until >= ? THEN 1 ELSE 0 END)
		FROM summary_queue`, staleBefore, now, staleBefore, now).
		Scan(&st.Total, &nullInt{&st.Ready}, &nullInt{&st.Locked}, &nullInt{&st.CoolingOff})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue status: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summary_failures`).Scan(&st.Failures); err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	return &st, nil
}

// nullInt scans a possibly-NULL aggregate into an int.
type nullInt struct{ v *int }

func (n *nullInt) Scan(src any) error {
	var ni sql.NullInt64
	if err := ni.Scan(src); err != nil {
		return err
	}
	if ni.Valid {
		*n.v = int(ni.Int64)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skimmer/internal/core"
)

// Retention deletes. Starred posts are never touched by any of these.

// DeleteReadPostsBefore removes read, unstarred posts read before the
// cutoff.
func (s *Store) DeleteReadPostsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM posts
		WHERE is_read = 1 AND is_starred = 0 AND read_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete read posts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteUnreadPostsBefore removes unread, unstarred posts fetched before the
// cutoff. Keyed on fetched_at, not publication date: a fresh subscription's
// backlog must get its full retention window.
func (s *Store) DeleteUnreadPostsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM posts
		WHERE is_read = 0 AND is_starred = 0 AND fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete unread posts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearFullContentBefore nulls stored full content on unstarred posts read
// before the cutoff. Unread posts keep theirs; the summary worker may still
// need it.
func (s *Store) ClearFullContentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET full_content = NULL
		WHERE is_starred = 0 AND full_content IS NOT NULL
		  AND is_read = 1 AND read_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clear full content: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertCleanupLog records one retention pass.
func (s *Store) InsertCleanupLog(ctx context.Context, l *core.CleanupLog) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cleanup_logs
			(executed_at, posts_removed, unread_removed, full_content_cleared, duration_seconds)
		VALUES (?, ?, ?, ?, ?)`,
		l.ExecutedAt.UTC(), l.PostsRemoved, l.UnreadRemoved,
		l.FullContentCleared, l.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert cleanup log: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// LastCleanup returns the most recent retention pass, or nil.
func (s *Store) LastCleanup(ctx context.Context) (*core.CleanupLog, error) {
	var l core.CleanupLog
	err := s.db.QueryRowContext(ctx, `
		SELECT id, executed_at, posts_removed, unread_removed,
		       full_content_cleared, duration_seconds
		FROM cleanup_logs ORDER BY executed_at DESC LIMIT 1`).
		Scan(&l.ID, &l.ExecutedAt, &l.PostsRemoved, &l.UnreadRemoved,
			&l.FullContentCleared, &l.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cleanup log: %w", err)
	}
	return &l, nil
}

// Stats is the counter block for the admin status endpoint.
type Stats struct {
	Feeds        int   `json:"feeds"`
	Posts        int   `json:"posts"`
	UnreadPosts  int   `json:"unread_posts"`
	StarredPosts int   `json:"starred_posts"`
	Summaries    int   `json:"summaries"`
	QueueDepth   int   `json:"queue_depth"`
	Failures     int   `json:"failures"`
	DatabaseSize int64 `json:"database_size"`
}

// GetStats collects table counts and the database file size.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{DatabaseSize: s.FileSize()}

	counts := map[string]*int{
		`SELECT COUNT(*) FROM feeds`:                       &st.Feeds,
		`SELECT COUNT(*) FROM posts`:                       &st.Posts,
		`SELECT COUNT(*) FROM posts WHERE is_read = 0`:     &st.UnreadPosts,
		`SELECT COUNT(*) FROM posts WHERE is_starred = 1`:  &st.StarredPosts,
		`SELECT COUNT(*) FROM ai_summaries`:                &st.Summaries,
		`SELECT COUNT(*) FROM summary_queue`:               &st.QueueDepth,
		`SELECT COUNT(*) FROM summary_failures`:            &st.Failures,
	}
	for query, target := range counts {
		if err := s.db.QueryRowContext(ctx, query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	return st, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"skimmer/internal/core"
)

// ErrDuplicateFeed is returned when a feed with the same URL already exists.
var ErrDuplicateFeed = errors.New("feed URL already exists")

const feedColumns = `id, category_id, title, url, site_url, last_fetched_at,
	error_count, last_error, last_error_at, next_retry_at, disabled_at,
	disable_reason, guid_unreliable, guid_collision_count,
	allow_duplicate_urls, created_at`

func scanFeed(row interface{ Scan(...any) error }) (*core.Feed, error) {
	var f core.Feed
	var categoryID sql.NullInt64
	var lastFetched, lastErrorAt, nextRetry, disabled sql.NullTime

	err := row.Scan(
		&f.ID, &categoryID, &f.Title, &f.URL, &f.SiteURL, &lastFetched,
		&f.ErrorCount, &f.LastError, &lastErrorAt, &nextRetry, &disabled,
		&f.DisableReason, &f.GUIDUnreliable, &f.GUIDCollisionCount,
		&f.AllowDuplicateURLs, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		f.CategoryID = &categoryID.Int64
	}
	f.LastFetchedAt = timePtr(lastFetched)
	f.LastErrorAt = timePtr(lastErrorAt)
	f.NextRetryAt = timePtr(nextRetry)
	f.DisabledAt = timePtr(disabled)
	return &f, nil
}

// CreateFeed inserts a new feed and sets its ID. Duplicate URLs return
// ErrDuplicateFeed.
func (s *Store) CreateFeed(ctx context.Context, f *core.Feed) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (category_id, title, url, site_url, allow_duplicate_urls, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.CategoryID, f.Title, f.URL, f.SiteURL, f.AllowDuplicateURLs, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateFeed
		}
		return fmt.Errorf("failed to create feed: %w", err)
	}

	f.ID, _ = res.LastInsertId()
	f.CreatedAt = now
	return nil
}

// GetFeed returns the feed with the given id, or nil when absent.
func (s *Store) GetFeed(ctx context.Context, id int64) (*core.Feed, error) {
	f, err := scanFeed(s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return f, nil
}

// GetFeedByURL returns the feed with the given source URL, or nil.
func (s *Store) GetFeedByURL(ctx context.Context, url string) (*core.Feed, error) {
	f, err := scanFeed(s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by url: %w", err)
	}
	return f, nil
}

// ListFeeds returns all feeds ordered by title.
func (s *Store) ListFeeds(ctx context.Context) ([]core.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY title COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []core.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// EligibleFeeds returns feeds that may be fetched now: not disabled and past
// any retry backoff.
func (s *Store) EligibleFeeds(ctx context.Context, now time.Time) ([]core.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedColumns+` FROM feeds
		WHERE disabled_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY error_count ASC, last_fetched_at ASC`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible feeds: %w", err)
	}
	defer rows.Close()

	var feeds []core.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// UpdateFeed persists user-editable fields.
func (s *Store) UpdateFeed(ctx context.Context, f *core.Feed) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET category_id = ?, title = ?, site_url = ?, allow_duplicate_urls = ?
		WHERE id = ?`,
		f.CategoryID, f.Title, f.SiteURL, f.AllowDuplicateURLs, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update feed: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed; posts cascade.
func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feed: %w", err)
	}
	return nil
}

// RecordFeedSuccess clears error state after a successful fetch.
func (s *Store) RecordFeedSuccess(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET last_fetched_at = ?, error_count = 0, last_error = '',
		    last_error_at = NULL, next_retry_at = NULL
		WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record feed success: %w", err)
	}
	return nil
}

// RecordFeedFailure increments the error counter and schedules the next
// retry. A nil nextRetry leaves the feed immediately eligible.
func (s *Store) RecordFeedFailure(ctx context.Context, id int64, message string, nextRetry *time.Time, now time.Time) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET error_count = error_count + 1, last_error = ?, last_error_at = ?,
		    next_retry_at = ?
		WHERE id = ?`, message, now.UTC(), nullTime(nextRetry), id)
	if err != nil {
		return 0, fmt.Errorf("failed to record feed failure: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT error_count FROM feeds WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read error count: %w", err)
	}
	return count, nil
}

// DisableFeed marks a feed as disabled with a reason.
func (s *Store) DisableFeed(ctx context.Context, id int64, reason string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET disabled_at = ?, disable_reason = ? WHERE id = ?`,
		now.UTC(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to disable feed: %w", err)
	}
	return nil
}

// EnableFeed clears disabled and error state so the feed is fetched again.
func (s *Store) EnableFeed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feeds
		SET disabled_at = NULL, disable_reason = '', error_count = 0,
		    last_error = '', last_error_at = NULL, next_retry_at = NULL
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to enable feed: %w", err)
	}
	return nil
}

// ClearFeedErrors resets error state inside the per-feed ingest transaction.
func (tx *Tx) ClearFeedErrors(ctx context.Context, id int64, now time.Time) error {
	_, err := tx.tx.ExecContext(ctx, `
		UPDATE feeds
		SET last_fetched_at = ?, error_count = 0, last_error = '',
		    last_error_at = NULL, next_retry_at = NULL
		WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear feed errors: %w", err)
	}
	return nil
}

// UpdateFeedMeta refreshes title and site URL discovered during ingestion.
func (tx *Tx) UpdateFeedMeta(ctx context.Context, id int64, title, siteURL string) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE feeds SET title = ?, site_url = ? WHERE id = ?`, title, siteURL, id)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

// IncrementGUIDCollisions bumps the collision counter and returns the new
// value.
func (tx *Tx) IncrementGUIDCollisions(ctx context.Context, id int64) (int, error) {
	if _, err := tx.tx.ExecContext(ctx,
		`UPDATE feeds SET guid_collision_count = guid_collision_count + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to increment guid collisions: %w", err)
	}
	var count int
	if err := tx.tx.QueryRowContext(ctx,
		`SELECT guid_collision_count FROM feeds WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read guid collision count: %w", err)
	}
	return count, nil
}

// MarkGUIDUnreliable stops GUID-based deduplication for the feed.
func (tx *Tx) MarkGUIDUnreliable(ctx context.Context, id int64) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE feeds SET guid_unreliable = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark guid unreliable: %w", err)
	}
	return nil
}

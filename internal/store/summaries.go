package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skimmer/internal/core"
)

// GetSummaryByHash returns the content-addressed summary, or nil.
func (s *Store) GetSummaryByHash(ctx context.Context, hash string) (*core.AISummary, error) {
	var sum core.AISummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, summary, one_line_summary, translated_title, created_at
		FROM ai_summaries WHERE content_hash = ?`, hash).
		Scan(&sum.ID, &sum.ContentHash, &sum.Summary, &sum.OneLineSummary,
			&sum.TranslatedTitle, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &sum, nil
}

// UpsertSummary stores or replaces the summary for a content hash.
func (s *Store) UpsertSummary(ctx context.Context, sum *core.AISummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_summaries (content_hash, summary, one_line_summary, translated_title, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			summary = excluded.summary,
			one_line_summary = excluded.one_line_summary,
			translated_title = excluded.translated_title,
			created_at = excluded.created_at`,
		sum.ContentHash, sum.Summary, sum.OneLineSummary, sum.TranslatedTitle,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

// DeleteSummaryByHash removes a summary so it can be regenerated.
func (s *Store) DeleteSummaryByHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ai_summaries WHERE content_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}

// DeleteOrphanSummaries removes summaries no post references anymore.
func (s *Store) DeleteOrphanSummaries(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM ai_summaries
		WHERE content_hash NOT IN (
			SELECT content_hash FROM posts WHERE content_hash IS NOT NULL)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan summaries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordFailure archives a content hash that exhausted its retries.
func (s *Store) RecordFailure(ctx context.Context, hash, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_failures (content_hash, last_error, failed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			last_error = excluded.last_error, failed_at = excluded.failed_at`,
		hash, lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record summary failure: %w", err)
	}
	return nil
}

// HasFailure reports whether the hash is archived as permanently failed.
func (s *Store) HasFailure(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summary_failures WHERE content_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check failure: %w", err)
	}
	return n > 0, nil
}

// DeleteFailure clears the failure archive entry so the hash can be retried.
func (s *Store) DeleteFailure(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM summary_failures WHERE content_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete failure: %w", err)
	}
	return nil
}

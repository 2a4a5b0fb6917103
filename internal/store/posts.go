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

const postColumns = `id, feed_id, guid, url, normalized_url, title, author,
	content, full_content, content_hash, published_at, fetched_at, sort_date,
	is_read, read_at, is_starred, starred_at, is_liked, liked_at,
	is_suggested, suggestion_score, suggested_at, fetch_full_attempted_at`

func scanPost(row interface{ Scan(...any) error }) (*core.Post, error) {
	var p core.Post
	var guid, normalizedURL, fullContent, contentHash sql.NullString
	var published, readAt, starredAt, likedAt, suggestedAt, fetchFull sql.NullTime
	var score sql.NullInt64

	err := row.Scan(
		&p.ID, &p.FeedID, &guid, &p.URL, &normalizedURL, &p.Title, &p.Author,
		&p.Content, &fullContent, &contentHash, &published, &p.FetchedAt,
		&p.SortDate, &p.IsRead, &readAt, &p.IsStarred, &starredAt, &p.IsLiked,
		&likedAt, &p.IsSuggested, &score, &suggestedAt, &fetchFull,
	)
	if err != nil {
		return nil, err
	}

	p.GUID = guid.String
	p.NormalizedURL = normalizedURL.String
	p.FullContent = fullContent.String
	p.ContentHash = contentHash.String
	p.PublishedAt = timePtr(published)
	p.ReadAt = timePtr(readAt)
	p.StarredAt = timePtr(starredAt)
	p.LikedAt = timePtr(likedAt)
	p.SuggestedAt = timePtr(suggestedAt)
	p.FetchFullAttemptedAt = timePtr(fetchFull)
	if score.Valid {
		v := int(score.Int64)
		p.SuggestionScore = &v
	}
	return &p, nil
}

func queryPost(ctx context.Context, q querier, where string, args ...any) (*core.Post, error) {
	p, err := scanPost(q.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query post: %w", err)
	}
	return p, nil
}

// GetPost returns the post with the given id, or nil when absent.
func (s *Store) GetPost(ctx context.Context, id int64) (*core.Post, error) {
	return queryPost(ctx, s.db, `id = ?`, id)
}

// PostByHash returns any one post carrying the content hash, or nil.
func (s *Store) PostByHash(ctx context.Context, hash string) (*core.Post, error) {
	return queryPost(ctx, s.db, `content_hash = ?`, hash)
}

// PostFilter narrows ListPosts.
type PostFilter struct {
	FeedID        *int64
	CategoryID    *int64
	UnreadOnly    bool
	StarredOnly   bool
	SuggestedOnly bool
	Limit         int
	Offset        int
}

// ListPosts returns a page of posts ordered by sort_date descending, plus
// the total count matching the filter.
func (s *Store) ListPosts(ctx context.Context, f PostFilter) ([]core.Post, int, error) {
	var conds []string
	var args []any

	if f.FeedID != nil {
		conds = append(conds, "feed_id = ?")
		args = append(args, *f.FeedID)
	}
	if f.CategoryID != nil {
		conds = append(conds, "feed_id IN (SELECT id FROM feeds WHERE category_id = ?)")
		args = append(args, *f.CategoryID)
	}
	if f.UnreadOnly {
		conds = append(conds, "is_read = 0")
	}
	if f.StarredOnly {
		conds = append(conds, "is_starred = 1")
	}
	if f.SuggestedOnly {
		conds = append(conds, "is_suggested = 1")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count posts: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts`+where+
			` ORDER BY sort_date DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []core.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, total, rows.Err()
}

// UnreadCounts returns the number of unread posts per feed.
func (s *Store) UnreadCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, COUNT(*) FROM posts WHERE is_read = 0 GROUP BY feed_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread posts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var feedID int64
		var n int
		if err := rows.Scan(&feedID, &n); err != nil {
			return nil, err
		}
		counts[feedID] = n
	}
	return counts, rows.Err()
}

// StarredCount returns the number of starred posts.
func (s *Store) StarredCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE is_starred = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count starred posts: %w", err)
	}
	return n, nil
}

// MarkRead sets or clears the read flag.
func (s *Store) MarkRead(ctx context.Context, id int64, read bool, now time.Time) error {
	var readAt any
	if read {
		readAt = now.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_read = ?, read_at = ? WHERE id = ?`, read, readAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark post read: %w", err)
	}
	return nil
}

// MarkManyRead marks a batch of posts read and returns how many changed.
func (s *Store) MarkManyRead(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{now.UTC()}
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_read = 1, read_at = ?
		 WHERE id IN (`+placeholders+`) AND is_read = 0`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark posts read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Star sets or clears the starred flag.
func (s *Store) Star(ctx context.Context, id int64, starred bool, now time.Time) error {
	var starredAt any
	if starred {
		starredAt = now.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_starred = ?, starred_at = ? WHERE id = ?`, starred, starredAt, id)
	if err != nil {
		return fmt.Errorf("failed to star post: %w", err)
	}
	return nil
}

// Like sets or clears the liked flag.
func (s *Store) Like(ctx context.Context, id int64, liked bool, now time.Time) error {
	var likedAt any
	if liked {
		likedAt = now.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_liked = ?, liked_at = ? WHERE id = ?`, liked, likedAt, id)
	if err != nil {
		return fmt.Errorf("failed to like post: %w", err)
	}
	return nil
}

// SetFullContent stores extracted full content on a post.
func (s *Store) SetFullContent(ctx context.Context, id int64, content string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET full_content = ?, fetch_full_attempted_at = ? WHERE id = ?`,
		nullString(content), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set full content: %w", err)
	}
	return nil
}

// SetFetchFullAttempted records an extraction attempt without content.
func (s *Store) SetFetchFullAttempted(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET fetch_full_attempted_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record extraction attempt: %w", err)
	}
	return nil
}

// LikedPosts returns liked posts, newest like first.
func (s *Store) LikedPosts(ctx context.Context, limit int) ([]core.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE is_liked = 1
		 ORDER BY liked_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list liked posts: %w", err)
	}
	defer rows.Close()

	var posts []core.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// LikedSummary pairs a liked post's title with its summary text, for the
// interest-profile prompt.
type LikedSummary struct {
	Title   string
	Summary string
}

// LikedSummaries returns the most recently liked posts that have a summary.
func (s *Store) LikedSummaries(ctx context.Context, limit int) ([]LikedSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.title, a.summary
		FROM posts p
		JOIN ai_summaries a ON a.content_hash = p.content_hash
		WHERE p.is_liked = 1
		ORDER BY p.liked_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list liked summaries: %w", err)
	}
	defer rows.Close()

	var out []LikedSummary
	for rows.Next() {
		var ls LikedSummary
		if err := rows.Scan(&ls.Title, &ls.Summary); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// SuggestionCandidates returns recently fetched, summarized posts that are
// unread, unliked and not yet suggested.
func (s *Store) SuggestionCandidates(ctx context.Context, since time.Time, limit int) ([]core.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE is_read = 0 AND is_suggested = 0 AND is_liked = 0
		   AND fetched_at > ?
		   AND content_hash IN (SELECT content_hash FROM ai_summaries)
		 ORDER BY fetched_at DESC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestion candidates: %w", err)
	}
	defer rows.Close()

	var posts []core.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// MarkSuggested flags a post as a suggestion with its score.
func (s *Store) MarkSuggested(ctx context.Context, id int64, score int, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_suggested = 1, suggestion_score = ?, suggested_at = ? WHERE id = ?`,
		score, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark post suggested: %w", err)
	}
	return nil
}

// PostTags returns the tags attached to a post, sorted.
func (s *Store) PostTags(ctx context.Context, postID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM post_tags WHERE post_id = ? ORDER BY tag`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list post tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ReplaceTagsForHash replaces the tag set of every post sharing the content
// hash.
func (s *Store) ReplaceTagsForHash(ctx context.Context, hash string, tags []string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `
			DELETE FROM post_tags
			WHERE post_id IN (SELECT id FROM posts WHERE content_hash = ?)`, hash); err != nil {
			return fmt.Errorf("failed to clear tags: %w", err)
		}
		for _, tag := range tags {
			if _, err := tx.tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO post_tags (post_id, tag)
				SELECT id, ? FROM posts WHERE content_hash = ?`, tag, hash); err != nil {
				return fmt.Errorf("failed to insert tag: %w", err)
			}
		}
		return nil
	})
}

// Ingest-path lookups run inside the per-feed transaction.

// FindPostByGUID returns the post with this guid in the feed, or nil.
func (tx *Tx) FindPostByGUID(ctx context.Context, feedID int64, guid string) (*core.Post, error) {
	return queryPost(ctx, tx.tx, `feed_id = ? AND guid = ?`, feedID, guid)
}

// FindPostByURL returns the post with this normalized URL in the feed, or
// nil.
func (tx *Tx) FindPostByURL(ctx context.Context, feedID int64, normalizedURL string) (*core.Post, error) {
	return queryPost(ctx, tx.tx, `feed_id = ? AND normalized_url = ?`, feedID, normalizedURL)
}

// FindPostByHashOnly matches the content-hash fallback: posts in the feed
// with this hash and neither guid nor normalized URL.
func (tx *Tx) FindPostByHashOnly(ctx context.Context, feedID int64, hash string) (*core.Post, error) {
	return queryPost(ctx, tx.tx,
		`feed_id = ? AND content_hash = ? AND guid IS NULL AND normalized_url IS NULL`,
		feedID, hash)
}

// InsertPost inserts a new post and sets its ID.
func (tx *Tx) InsertPost(ctx context.Context, p *core.Post) error {
	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO posts (feed_id, guid, url, normalized_url, title, author,
			content, content_hash, published_at, fetched_at, sort_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.FeedID, nullString(p.GUID), p.URL, nullString(p.NormalizedURL),
		p.Title, p.Author, p.Content, nullString(p.ContentHash),
		nullTime(p.PublishedAt), p.FetchedAt.UTC(), p.SortDate.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// UpdatePostTitle replaces a placeholder title on an existing post.
func (tx *Tx) UpdatePostTitle(ctx context.Context, id int64, title string) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE posts SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("failed to update post title: %w", err)
	}
	return nil
}

// Package core defines the shared domain types persisted by the store.
package core

import "time"

// Category groups feeds into a user-defined hierarchy.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Feed represents a configured RSS/Atom source.
type Feed struct {
	ID            int64      `json:"id"`
	CategoryID    *int64     `json:"category_id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	SiteURL       string     `json:"site_url"`
	LastFetchedAt *time.Time `json:"last_fetched_at"`

	ErrorCount    int        `json:"error_count"`
	LastError     string     `json:"last_error"`
	LastErrorAt   *time.Time `json:"last_error_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
	DisabledAt    *time.Time `json:"disabled_at"`
	DisableReason string     `json:"disable_reason"`

	// GUID reliability tracking: feeds that reuse GUIDs across distinct
	// articles stop participating in GUID-based deduplication.
	GUIDUnreliable     bool `json:"guid_unreliable"`
	GUIDCollisionCount int  `json:"guid_collision_count"`

	AllowDuplicateURLs bool `json:"allow_duplicate_urls"`

	CreatedAt time.Time `json:"created_at"`
}

// Eligible reports whether the feed may be fetched right now.
func (f *Feed) Eligible(now time.Time) bool {
	if f.DisabledAt != nil {
		return false
	}
	return f.NextRetryAt == nil || !f.NextRetryAt.After(now)
}

// Post is a single feed item as persisted.
type Post struct {
	ID            int64      `json:"id"`
	FeedID        int64      `json:"feed_id"`
	GUID          string     `json:"guid"`
	URL           string     `json:"url"`
	NormalizedURL string     `json:"normalized_url"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	Content       string     `json:"content"`      // sanitized, truncated to 500 chars
	FullContent   string     `json:"full_content"` // extracted on demand
	ContentHash   string     `json:"content_hash"`
	PublishedAt   *time.Time `json:"published_at"`
	FetchedAt     time.Time  `json:"fetched_at"`
	SortDate      time.Time  `json:"sort_date"`

	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at"`
	IsStarred bool       `json:"is_starred"`
	StarredAt *time.Time `json:"starred_at"`
	IsLiked   bool       `json:"is_liked"`
	LikedAt   *time.Time `json:"liked_at"`

	IsSuggested     bool       `json:"is_suggested"`
	SuggestionScore *int       `json:"suggestion_score"`
	SuggestedAt     *time.Time `json:"suggested_at"`

	FetchFullAttemptedAt *time.Time `json:"fetch_full_attempted_at"`
}

// AISummary is the content-addressed summary row shared by every post with
// the same content hash.
type AISummary struct {
	ID              int64     `json:"id"`
	ContentHash     string    `json:"content_hash"`
	Summary         string    `json:"summary"`
	OneLineSummary  string    `json:"one_line_summary"`
	TranslatedTitle string    `json:"translated_title"`
	CreatedAt       time.Time `json:"created_at"`
}

// QueueEntry is one pending summarization work item.
type QueueEntry struct {
	ID            int64      `json:"id"`
	PostID        int64      `json:"post_id"`
	ContentHash   string     `json:"content_hash"`
	Priority      int        `json:"priority"` // higher first; 0 background, 10 user-requested, -1 backfill
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error"`
	ErrorType     string     `json:"error_type"` // "temporary" or "permanent"
	LockedAt      *time.Time `json:"locked_at"`
	CooldownUntil *time.Time `json:"cooldown_until"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SummaryFailure archives a content hash that exhausted its retries.
type SummaryFailure struct {
	ID          int64     `json:"id"`
	ContentHash string    `json:"content_hash"`
	LastError   string    `json:"last_error"`
	FailedAt    time.Time `json:"failed_at"`
}

// CleanupLog records one retention pass.
type CleanupLog struct {
	ID                 int64     `json:"id"`
	ExecutedAt         time.Time `json:"executed_at"`
	PostsRemoved       int       `json:"posts_removed"`
	UnreadRemoved      int       `json:"unread_removed"`
	FullContentCleared int       `json:"full_content_cleared"`
	DurationSeconds    float64   `json:"duration_seconds"`
}

// IngestResult summarizes one feed ingestion pass.
type IngestResult struct {
	NewPosts          int      `json:"new_posts"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	Errors            []string `json:"errors"`
	FeedTitleUpdated  bool     `json:"feed_title_updated"`
	SiteURLUpdated    bool     `json:"site_url_updated"`
}

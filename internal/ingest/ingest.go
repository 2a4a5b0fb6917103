// Package ingest turns fetched feed entries into deduplicated post rows.
// Each feed is processed in a single transaction: metadata updates, new
// posts, their queue entries and the error-state reset commit together.
package ingest

import (
	"context"
	"strings"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/feedparse"
	"skimmer/internal/hashing"
	"skimmer/internal/logger"
	"skimmer/internal/sanitize"
	"skimmer/internal/store"
	"skimmer/internal/urlnorm"
)

// guidCollisionLimit is the number of same-guid/different-url collisions
// after which a feed's GUIDs stop being trusted for deduplication.
const guidCollisionLimit = 3

// Fetcher retrieves and decodes one feed. Satisfied by feedparse.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feedparse.Feed, error)
}

// Ingestor pulls feeds and writes deduplicated posts.
type Ingestor struct {
	st      *store.Store
	fetcher Fetcher
}

// New returns an Ingestor using the standard feed fetcher.
func New(st *store.Store) *Ingestor {
	return &Ingestor{st: st, fetcher: feedparse.New()}
}

// NewWithFetcher returns an Ingestor with a custom fetcher.
func NewWithFetcher(st *store.Store, f Fetcher) *Ingestor {
	return &Ingestor{st: st, fetcher: f}
}

// IngestFeed fetches one feed and inserts its new entries. Fetch and parse
// failures are recorded on the feed and reported in the result rather than
// returned; the error return is reserved for storage failures.
func (in *Ingestor) IngestFeed(ctx context.Context, feed *core.Feed, now time.Time) (*core.IngestResult, error) {
	result := &core.IngestResult{}

	parsed, err := in.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		count, ferr := in.st.RecordFeedFailure(ctx, feed.ID, err.Error(), nil, now)
		if ferr != nil {
			return result, ferr
		}
		logger.Warn("Feed fetch failed",
			"feed_id", feed.ID, "error_count", count, "error", err.Error())
		return result, nil
	}

	err = in.st.WithTx(ctx, func(tx *store.Tx) error {
		if err := in.updateFeedMeta(ctx, tx, feed, parsed, result); err != nil {
			return err
		}

		guidUnreliable := feed.GUIDUnreliable
		for i := range parsed.Entries {
			inserted, nowUnreliable, err := in.processEntry(
				ctx, tx, feed, guidUnreliable, &parsed.Entries[i], now)
			if err != nil {
				return err
			}
			if nowUnreliable {
				guidUnreliable = true
			}
			if inserted {
				result.NewPosts++
			} else {
				result.SkippedDuplicates++
			}
		}

		return tx.ClearFeedErrors(ctx, feed.ID, now)
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	logger.Info("Feed ingested",
		"feed_id", feed.ID, "new", result.NewPosts, "duplicates", result.SkippedDuplicates)
	return result, nil
}

// updateFeedMeta replaces a hostname-placeholder title and fills an empty
// site URL from the parsed feed.
func (in *Ingestor) updateFeedMeta(ctx context.Context, tx *store.Tx, feed *core.Feed, parsed *feedparse.Feed, result *core.IngestResult) error {
	title, siteURL := feed.Title, feed.SiteURL

	if parsed.Title != "" && isPlaceholderTitle(feed.Title) {
		title = parsed.Title
		result.FeedTitleUpdated = true
	}
	if parsed.SiteURL != "" && feed.SiteURL == "" {
		siteURL = parsed.SiteURL
		result.SiteURLUpdated = true
	}

	if !result.FeedTitleUpdated && !result.SiteURLUpdated {
		return nil
	}
	return tx.UpdateFeedMeta(ctx, feed.ID, title, siteURL)
}

// isPlaceholderTitle matches titles that are just a hostname, as created
// when a feed is added before its first fetch.
func isPlaceholderTitle(title string) bool {
	return strings.Contains(title, ".") && !strings.Contains(title, "/")
}

// processEntry runs the dedup chain for one entry and inserts it when new.
// Returns whether a post was inserted and whether the feed's GUIDs were
// marked unreliable during this entry.
func (in *Ingestor) processEntry(ctx context.Context, tx *store.Tx, feed *core.Feed, guidUnreliable bool, entry *feedparse.Entry, now time.Time) (bool, bool, error) {
	normalizedURL := urlnorm.Normalize(entry.URL)
	content := sanitize.HTML(entry.Content, true)
	hash := hashing.ContentHash(entry.Content, entry.Title, entry.URL)

	// Once GUIDs are unreliable they are dropped entirely: no GUID dedup,
	// and new posts store a null guid so URL dedup governs alone.
	guid := entry.GUID
	if guidUnreliable {
		guid = ""
	}

	becameUnreliable := false
	if guid != "" {
		existing, err := tx.FindPostByGUID(ctx, feed.ID, guid)
		if err != nil {
			return false, false, err
		}
		if existing != nil {
			// Same guid pointing at a different article means the feed
			// reuses GUIDs.
			if normalizedURL != "" && existing.NormalizedURL != "" &&
				existing.NormalizedURL != normalizedURL {
				count, err := tx.IncrementGUIDCollisions(ctx, feed.ID)
				if err != nil {
					return false, false, err
				}
				if count >= guidCollisionLimit {
					if err := tx.MarkGUIDUnreliable(ctx, feed.ID); err != nil {
						return false, false, err
					}
					becameUnreliable = true
					logger.Warn("Feed GUIDs marked unreliable",
						"feed_id", feed.ID, "collisions", count)
				}
			}
			return false, becameUnreliable, nil
		}
	}

	if normalizedURL != "" && !feed.AllowDuplicateURLs {
		existing, err := tx.FindPostByURL(ctx, feed.ID, normalizedURL)
		if err != nil {
			return false, becameUnreliable, err
		}
		if existing != nil {
			return false, becameUnreliable, nil
		}
	}

	// Hash dedup is a fallback for entries with neither guid nor URL.
	if hash != "" && guid == "" && normalizedURL == "" {
		existing, err := tx.FindPostByHashOnly(ctx, feed.ID, hash)
		if err != nil {
			return false, becameUnreliable, err
		}
		if existing != nil {
			return false, becameUnreliable, nil
		}
	}

	sortDate := now
	if entry.PublishedAt != nil {
		sortDate = *entry.PublishedAt
	}

	post := &core.Post{
		FeedID:        feed.ID,
		GUID:          guid,
		URL:           entry.URL,
		NormalizedURL: normalizedURL,
		Title:         entry.Title,
		Author:        entry.Author,
		Content:       content,
		ContentHash:   hash,
		PublishedAt:   entry.PublishedAt,
		FetchedAt:     now,
		SortDate:      sortDate,
	}
	if err := tx.InsertPost(ctx, post); err != nil {
		return false, becameUnreliable, err
	}

	if hash != "" {
		if err := tx.Enqueue(ctx, post.ID, hash, 0); err != nil {
			return false, becameUnreliable, err
		}
	}
	return true, becameUnreliable, nil
}

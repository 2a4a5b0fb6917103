package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/feedparse"
	"skimmer/internal/store"
)

type stubFetcher struct {
	feed *feedparse.Feed
	err  error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*feedparse.Feed, error) {
	return s.feed, s.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateFeed(t *testing.T, st *store.Store, f *core.Feed) *core.Feed {
	t.Helper()
	if f.Title == "" {
		f.Title = "example.com"
	}
	if f.URL == "" {
		f.URL = "https://example.com/feed.xml"
	}
	if err := st.CreateFeed(context.Background(), f); err != nil {
		t.Fatalf("create feed: %v", err)
	}
	return f
}

func entry(guid, url, title, content string) feedparse.Entry {
	return feedparse.Entry{GUID: guid, URL: url, Title: title, Content: content}
}

const body = "<p>A real article body with enough text to produce a content hash for deduplication.</p>"

func ingestOnce(t *testing.T, st *store.Store, feedID int64, entries ...feedparse.Entry) *core.IngestResult {
	t.Helper()
	ctx := context.Background()
	feed, err := st.GetFeed(ctx, feedID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	in := NewWithFetcher(st, &stubFetcher{feed: &feedparse.Feed{
		Title:   "Example Blog",
		SiteURL: "https://example.com",
		Entries: entries,
	}})
	result, err := in.IngestFeed(ctx, feed, time.Now().UTC())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return result
}

func TestIngestNewPosts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	result := ingestOnce(t, st, feed.ID,
		entry("g1", "https://example.com/a1", "First", body),
		entry("g2", "https://example.com/a2", "Second", body+"<p>more</p>"),
	)
	if result.NewPosts != 2 || result.SkippedDuplicates != 0 {
		t.Fatalf("result = %+v", result)
	}

	posts, total, err := st.ListPosts(ctx, store.PostFilter{})
	if err != nil || total != 2 {
		t.Fatalf("posts = %d err = %v", total, err)
	}
	for _, p := range posts {
		if p.ContentHash == "" || p.NormalizedURL == "" {
			t.Errorf("post %d missing hash or normalized url: %+v", p.ID, p)
		}
	}

	// Each hashed post got a queue entry at background priority.
	stats, err := st.QueueStatus(ctx, time.Now().UTC(), 5*time.Minute)
	if err != nil || stats.Total != 2 {
		t.Fatalf("queue total = %d err = %v", stats.Total, err)
	}

	// Placeholder title and empty site URL were filled from the parsed feed.
	if !result.FeedTitleUpdated || !result.SiteURLUpdated {
		t.Errorf("meta flags = %+v", result)
	}
	updated, _ := st.GetFeed(ctx, feed.ID)
	if updated.Title != "Example Blog" || updated.SiteURL != "https://example.com" {
		t.Errorf("feed meta = %q %q", updated.Title, updated.SiteURL)
	}
	if updated.LastFetchedAt == nil {
		t.Error("last_fetched_at not set")
	}
}

func TestIngestKeepsNonPlaceholderTitle(t *testing.T) {
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{Title: "My Curated List"})

	result := ingestOnce(t, st, feed.ID)
	if result.FeedTitleUpdated {
		t.Error("custom title was overwritten")
	}
}

func TestIngestDedupByGUID(t *testing.T) {
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	e := entry("g1", "https://example.com/a1", "First", body)
	ingestOnce(t, st, feed.ID, e)

	result := ingestOnce(t, st, feed.ID, e)
	if result.NewPosts != 0 || result.SkippedDuplicates != 1 {
		t.Fatalf("second ingest = %+v", result)
	}
}

func TestIngestGUIDCollisionsMarkUnreliable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	ingestOnce(t, st, feed.ID, entry("g1", "https://example.com/a0", "Original", body))

	// Three colliding ingests: same guid, different URLs.
	for i := 1; i <= 3; i++ {
		result := ingestOnce(t, st, feed.ID,
			entry("g1", fmt.Sprintf("https://example.com/a%d", i), "Collision", body))
		if result.NewPosts != 0 {
			t.Fatalf("collision %d inserted a post", i)
		}
	}

	updated, _ := st.GetFeed(ctx, feed.ID)
	if updated.GUIDCollisionCount != 3 || !updated.GUIDUnreliable {
		t.Fatalf("feed = collisions %d unreliable %v",
			updated.GUIDCollisionCount, updated.GUIDUnreliable)
	}

	// With GUIDs distrusted, a same-guid/new-URL item is a new post.
	result := ingestOnce(t, st, feed.ID,
		entry("g1", "https://example.com/a4", "Fourth", body))
	if result.NewPosts != 1 {
		t.Fatalf("post-unreliable ingest = %+v", result)
	}
}

func TestIngestDedupByURL(t *testing.T) {
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	ingestOnce(t, st, feed.ID, entry("g1", "https://example.com/a1", "First", body))

	// Different guid, same article URL.
	result := ingestOnce(t, st, feed.ID,
		entry("g2", "https://example.com/a1?utm_source=feed", "First again", body))
	if result.NewPosts != 0 || result.SkippedDuplicates != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestIngestAllowDuplicateURLs(t *testing.T) {
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{AllowDuplicateURLs: true})

	ingestOnce(t, st, feed.ID, entry("g1", "https://example.com/a1", "First", body))

	result := ingestOnce(t, st, feed.ID,
		entry("g2", "https://example.com/a1", "Same URL", body))
	if result.NewPosts != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestIngestHashFallback(t *testing.T) {
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	// No guid, no URL: dedup falls back to the content hash.
	ingestOnce(t, st, feed.ID, entry("", "", "Untitled", body))

	result := ingestOnce(t, st, feed.ID, entry("", "", "Untitled", body))
	if result.NewPosts != 0 || result.SkippedDuplicates != 1 {
		t.Fatalf("same content = %+v", result)
	}

	result = ingestOnce(t, st, feed.ID,
		entry("", "", "Untitled", "<p>Entirely different body text for the second anonymous entry.</p>"))
	if result.NewPosts != 1 {
		t.Fatalf("different content = %+v", result)
	}
}

func TestIngestFetchErrorRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	in := NewWithFetcher(st, &stubFetcher{err: errors.New("connection refused")})
	result, err := in.IngestFeed(ctx, feed, time.Now().UTC())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(result.Errors) != 1 || result.NewPosts != 0 {
		t.Fatalf("result = %+v", result)
	}

	updated, _ := st.GetFeed(ctx, feed.ID)
	if updated.ErrorCount != 1 || updated.LastError == "" || updated.LastErrorAt == nil {
		t.Errorf("error bookkeeping = %+v", updated)
	}

	// A later success clears the error state.
	ingestOnce(t, st, feed.ID, entry("g1", "https://example.com/a1", "First", body))
	updated, _ = st.GetFeed(ctx, feed.ID)
	if updated.ErrorCount != 0 || updated.LastError != "" {
		t.Errorf("error state not cleared: %+v", updated)
	}
}

func TestIngestSortDateFallsBackToNow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	feed := mustCreateFeed(t, st, &core.Feed{})

	published := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dated := entry("g1", "https://example.com/a1", "Dated", body)
	dated.PublishedAt = &published
	undated := entry("g2", "https://example.com/a2", "Undated", body+"<p>x</p>")

	now := time.Now().UTC()
	in := NewWithFetcher(st, &stubFetcher{feed: &feedparse.Feed{
		Entries: []feedparse.Entry{dated, undated},
	}})
	if _, err := in.IngestFeed(ctx, feed, now); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	posts, _, err := st.ListPosts(ctx, store.PostFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range posts {
		switch p.Title {
		case "Dated":
			if !p.SortDate.Equal(published) {
				t.Errorf("dated sort_date = %v", p.SortDate)
			}
		case "Undated":
			if p.PublishedAt != nil {
				t.Errorf("undated published = %v", p.PublishedAt)
			}
			if d := p.SortDate.Sub(now); d < -time.Second || d > time.Second {
				t.Errorf("undated sort_date = %v, want ~%v", p.SortDate, now)
			}
		}
	}
}

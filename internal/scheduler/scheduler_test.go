package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"skimmer/internal/config"
	"skimmer/internal/core"
	"skimmer/internal/extract"
	"skimmer/internal/feedparse"
	"skimmer/internal/ingest"
	"skimmer/internal/llm"
	"skimmer/internal/profile"
	"skimmer/internal/store"
	"skimmer/internal/suggest"
	"skimmer/internal/worker"
)

type stubFetcher struct {
	feed *feedparse.Feed
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*feedparse.Feed, error) {
	return f.feed, f.err
}

type stubLLM struct{}

func (stubLLM) GenerateSummary(ctx context.Context, content, title string) (*llm.SummaryResult, error) {
	return nil, errors.New("not in this test")
}
func (stubLLM) Ready(ctx context.Context, now time.Time) bool { return false }
func (stubLLM) Chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return "", errors.New("not in this test")
}

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, url string) (*extract.Result, error) {
	return nil, errors.New("not in this test")
}

func newTestScheduler(t *testing.T, fetcher ingest.Fetcher) (*Scheduler, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "skimmer.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Settings{
		FeedUpdateIntervalMinutes: 10,
		CleanupHour:               3,
		MaxPostAgeDays:            30,
		MaxUnreadDays:             90,
	}

	s := New(st, cfg,
		ingest.NewWithFetcher(st, fetcher),
		worker.New(st, stubLLM{}, stubExtractor{}, time.Second, time.Minute),
		profile.NewGenerator(st, stubLLM{}, ""),
		suggest.NewEngine(st, stubLLM{}, ""))
	s.spacing = 0
	return s, st
}

func TestNextDailyRun(t *testing.T) {
	morning := time.Date(2026, 3, 5, 1, 30, 0, 0, time.UTC)
	if got := nextDailyRun(morning, 3); got.Day() != 5 || got.Hour() != 3 {
		t.Fatalf("expected same-day 03:00, got %v", got)
	}

	evening := time.Date(2026, 3, 5, 22, 0, 0, 0, time.UTC)
	if got := nextDailyRun(evening, 3); got.Day() != 6 || got.Hour() != 3 {
		t.Fatalf("expected next-day 03:00, got %v", got)
	}

	exact := time.Date(2026, 3, 5, 3, 0, 0, 0, time.UTC)
	if got := nextDailyRun(exact, 3); got.Day() != 6 {
		t.Fatalf("run at the boundary should schedule tomorrow, got %v", got)
	}
}

func TestRunFeedUpdateIngestsAndBackfills(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{feed: &feedparse.Feed{
		Title:   "Example Blog",
		SiteURL: "https://example.com",
		Entries: []feedparse.Entry{
			{GUID: "g1", URL: "https://example.com/a", Title: "First", Content: "<p>alpha</p>"},
			{GUID: "g2", URL: "https://example.com/b", Title: "Second", Content: "<p>beta</p>"},
		},
	}}
	s, st := newTestScheduler(t, fetcher)

	feed := &core.Feed{Title: "example.com", URL: "https://example.com/feed.xml"}
	if err := st.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("failed to create feed: %v", err)
	}

	// A hashed post with no queue entry should be picked up by the backfill.
	now := time.Now().UTC()
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertPost(ctx, &core.Post{
			FeedID: feed.ID, GUID: "orphan", URL: "https://example.com/c",
			NormalizedURL: "https://example.com/c", Title: "Orphan",
			ContentHash: "hash-orphan", FetchedAt: now, SortDate: now,
		})
	})
	if err != nil {
		t.Fatalf("failed to seed orphan post: %v", err)
	}

	s.RunFeedUpdate(ctx)

	updated, err := st.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("failed to reload feed: %v", err)
	}
	if updated.Title != "Example Blog" {
		t.Fatalf("expected discovered title, got %q", updated.Title)
	}
	if updated.LastFetchedAt == nil {
		t.Fatal("expected last_fetched_at to be set")
	}

	stats, err := st.QueueStatus(ctx, time.Now().UTC(), time.Minute)
	if err != nil {
		t.Fatalf("failed to read queue status: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("expected 2 ingested + 1 backfilled queue entries, got %d", stats.Total)
	}
}

func TestRunFeedUpdateRecordsFetchErrors(t *testing.T) {
	ctx := context.Background()
	s, st := newTestScheduler(t, &stubFetcher{err: errors.New("connection refused")})

	feed := &core.Feed{Title: "broken", URL: "https://broken.example/feed.xml"}
	if err := st.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("failed to create feed: %v", err)
	}

	s.RunFeedUpdate(ctx)

	updated, err := st.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("failed to reload feed: %v", err)
	}
	if updated.ErrorCount != 1 {
		t.Fatalf("expected error_count 1, got %d", updated.ErrorCount)
	}
	if updated.LastError == "" {
		t.Fatal("expected last_error to be recorded")
	}
}

func TestRunCleanupWritesLog(t *testing.T) {
	ctx := context.Background()
	s, st := newTestScheduler(t, &stubFetcher{})

	feed := &core.Feed{Title: "old", URL: "https://old.example/feed.xml"}
	if err := st.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("failed to create feed: %v", err)
	}

	now := time.Now().UTC()
	ancient := now.AddDate(0, 0, -120)
	var oldRead, oldUnread, starred core.Post
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		oldRead = core.Post{FeedID: feed.ID, GUID: "r", URL: "https://old.example/r",
			NormalizedURL: "https://old.example/r", Title: "read",
			FetchedAt: ancient, SortDate: ancient}
		oldUnread = core.Post{FeedID: feed.ID, GUID: "u", URL: "https://old.example/u",
			NormalizedURL: "https://old.example/u", Title: "unread",
			FetchedAt: ancient, SortDate: ancient}
		starred = core.Post{FeedID: feed.ID, GUID: "s", URL: "https://old.example/s",
			NormalizedURL: "https://old.example/s", Title: "starred",
			FetchedAt: ancient, SortDate: ancient}
		for _, p := range []*core.Post{&oldRead, &oldUnread, &starred} {
			if err := tx.InsertPost(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to seed posts: %v", err)
	}
	if err := st.MarkRead(ctx, oldRead.ID, true, ancient); err != nil {
		t.Fatalf("failed to mark read: %v", err)
	}
	if err := st.Star(ctx, starred.ID, true, ancient); err != nil {
		t.Fatalf("failed to star: %v", err)
	}

	if err := s.RunCleanup(ctx); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	log, err := st.LastCleanup(ctx)
	if err != nil {
		t.Fatalf("failed to read cleanup log: %v", err)
	}
	if log == nil {
		t.Fatal("expected a cleanup log row")
	}
	if log.PostsRemoved != 1 || log.UnreadRemoved != 1 {
		t.Fatalf("expected 1 read + 1 unread removed, got %d/%d",
			log.PostsRemoved, log.UnreadRemoved)
	}

	kept, err := st.GetPost(ctx, starred.ID)
	if err != nil {
		t.Fatalf("failed to reload starred post: %v", err)
	}
	if kept == nil {
		t.Fatal("starred post must survive cleanup")
	}
}

func TestRunCleanupHonorsRetentionOverride(t *testing.T) {
	ctx := context.Background()
	s, st := newTestScheduler(t, &stubFetcher{})

	feed := &core.Feed{Title: "old", URL: "https://old.example/feed.xml"}
	if err := st.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("failed to create feed: %v", err)
	}

	readAt := time.Now().UTC().AddDate(0, 0, -45)
	var post core.Post
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		post = core.Post{FeedID: feed.ID, GUID: "r", URL: "https://old.example/r",
			NormalizedURL: "https://old.example/r", Title: "read",
			FetchedAt: readAt, SortDate: readAt}
		return tx.InsertPost(ctx, &post)
	})
	if err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}
	if err := st.MarkRead(ctx, post.ID, true, readAt); err != nil {
		t.Fatalf("failed to mark read: %v", err)
	}

	// Stored preference stretches retention past the env default of 30 days.
	if err := st.SetSetting(ctx, store.SettingMaxPostAgeDays, "60"); err != nil {
		t.Fatalf("failed to set override: %v", err)
	}

	if err := s.RunCleanup(ctx); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	kept, err := st.GetPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("failed to reload post: %v", err)
	}
	if kept == nil {
		t.Fatal("post inside the overridden retention window must survive")
	}
}

func TestRunHealthCheckClearsStaleWarning(t *testing.T) {
	ctx := context.Background()
	s, st := newTestScheduler(t, &stubFetcher{})

	if err := st.SetSetting(ctx, store.SettingHealthWarning, "low disk space"); err != nil {
		t.Fatalf("failed to seed warning: %v", err)
	}

	if err := s.RunHealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if _, ok, err := st.GetSetting(ctx, store.SettingHealthWarning); err != nil {
		t.Fatalf("failed to read setting: %v", err)
	} else if ok {
		t.Fatal("healthy check should clear the warning")
	}
}

func TestRunHealthCheckSkipsDisabledSizeLimit(t *testing.T) {
	ctx := context.Background()
	s, st := newTestScheduler(t, &stubFetcher{})
	s.cfg.MaxDBSizeMB = -1

	if err := s.RunHealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	// A negative limit is skipped, so no warning appears.
	if _, ok, err := st.GetSetting(ctx, store.SettingHealthWarning); err != nil {
		t.Fatalf("failed to read setting: %v", err)
	} else if ok {
		t.Fatal("disabled size limit should not produce a warning")
	}
}

func TestSchedulerHolderIsStable(t *testing.T) {
	s, _ := newTestScheduler(t, &stubFetcher{})
	if s.Holder() == "" {
		t.Fatal("expected a holder identity")
	}
	if s.Holder() != s.Holder() {
		t.Fatal("holder must not change between calls")
	}
}

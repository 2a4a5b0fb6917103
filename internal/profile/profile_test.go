package profile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/store"
)

type stubChat struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
}

func (s *stubChat) Chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	s.calls++
	s.lastPrompt = user
	return s.reply, s.err
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

// seedLikes creates n liked posts that all have summaries.
func seedLikes(t *testing.T, st *store.Store, n int) {
	t.Helper()
	ctx := context.Background()

	feed := &core.Feed{Title: "example.com", URL: "https://example.com/feed.xml"}
	if err := st.CreateFeed(ctx, feed); err != nil {
		t.Fatalf("create feed: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		hash := fmt.Sprintf("hash-%d", i)
		post := &core.Post{
			FeedID:      feed.ID,
			GUID:        fmt.Sprintf("guid-%d", i),
			Title:       fmt.Sprintf("Liked Article %d", i),
			ContentHash: hash,
			FetchedAt:   now,
			SortDate:    now,
		}
		err := st.WithTx(ctx, func(tx *store.Tx) error { return tx.InsertPost(ctx, post) })
		if err != nil {
			t.Fatalf("insert post: %v", err)
		}
		if err := st.Like(ctx, post.ID, true, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("like: %v", err)
		}
		if err := st.UpsertSummary(ctx, &core.AISummary{
			ContentHash: hash, Summary: fmt.Sprintf("Summary %d", i), OneLineSummary: "o",
		}); err != nil {
			t.Fatalf("summary: %v", err)
		}
	}
}

func TestGenerateNeedsEnoughLikes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedLikes(t, st, minLikedPosts-1)

	chat := &stubChat{}
	g := NewGenerator(st, chat, "prompts-absent.yaml")

	p, err := g.Generate(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if p != nil {
		t.Fatalf("profile = %+v, want nil", p)
	}
	if chat.calls != 0 {
		t.Error("llm called with too few likes")
	}
}

func TestGenerateProfile(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedLikes(t, st, minLikedPosts)
	if err := MarkStale(ctx, st); err != nil {
		t.Fatal(err)
	}

	chat := &stubChat{reply: `{"profile": "Reads about distributed systems.", "tags": ["Go", "go", " Systems "]}`}
	g := NewGenerator(st, chat, "prompts-absent.yaml")

	now := time.Now().UTC()
	p, err := g.Generate(ctx, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if p.Profile != "Reads about distributed systems." {
		t.Errorf("profile = %q", p.Profile)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "go" || p.Tags[1] != "systems" {
		t.Errorf("tags = %v", p.Tags)
	}

	// The prompt carried the liked titles and summaries.
	if !strings.Contains(chat.lastPrompt, "Liked Article 0") ||
		!strings.Contains(chat.lastPrompt, "Summary 0") {
		t.Errorf("prompt missing liked posts: %.200s", chat.lastPrompt)
	}

	// Persisted and readable back; stale flag cleared.
	stored, err := Current(ctx, st)
	if err != nil || stored == nil {
		t.Fatalf("current = %v err = %v", stored, err)
	}
	if stored.Profile != p.Profile || len(stored.Tags) != 2 || stored.UpdatedAt == "" {
		t.Errorf("stored = %+v", stored)
	}
	stale, err := IsStale(ctx, st)
	if err != nil || stale {
		t.Errorf("stale = %v err = %v", stale, err)
	}
}

func TestGenerateRejectsEmptyProfile(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedLikes(t, st, minLikedPosts)

	chat := &stubChat{reply: `{"profile": "", "tags": ["go"]}`}
	g := NewGenerator(st, chat, "prompts-absent.yaml")

	if _, err := g.Generate(ctx, time.Now().UTC()); err == nil {
		t.Fatal("empty profile accepted")
	}
	if p, _ := Current(ctx, st); p != nil {
		t.Errorf("empty profile persisted: %+v", p)
	}
}

func TestStaleFlag(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if stale, err := IsStale(ctx, st); err != nil || stale {
		t.Fatalf("fresh store stale = %v err = %v", stale, err)
	}
	if err := MarkStale(ctx, st); err != nil {
		t.Fatal(err)
	}
	if stale, _ := IsStale(ctx, st); !stale {
		t.Error("MarkStale did not set the flag")
	}
}

func TestCurrentWithoutProfile(t *testing.T) {
	st := newTestStore(t)
	p, err := Current(context.Background(), st)
	if err != nil || p != nil {
		t.Fatalf("current = %v err = %v, want nil nil", p, err)
	}
}

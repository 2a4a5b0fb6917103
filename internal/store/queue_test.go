package store

import (
	"context"
	"testing"
	"time"

	"skimmer/internal/core"
)

func enqueuePost(t *testing.T, s *Store, feedID int64, guid, hash string, priority int) *core.Post {
	t.Helper()
	now := time.Now().UTC()
	p := &core.Post{FeedID: feedID, GUID: guid, ContentHash: hash, FetchedAt: now, SortDate: now}
	err := s.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.InsertPost(context.Background(), p); err != nil {
			return err
		}
		return tx.Enqueue(context.Background(), p.ID, hash, priority)
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return p
}

func TestClaimNextPriorityOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()

	enqueuePost(t, s, f.ID, "g1", "h1", 0)
	urgent := enqueuePost(t, s, f.ID, "g2", "h2", 10)
	enqueuePost(t, s, f.ID, "g3", "h3", 0)

	first, err := s.ClaimNext(ctx, now, 5*time.Minute)
	if err != nil || first == nil {
		t.Fatalf("claim: %+v, %v", first, err)
	}
	if first.PostID != urgent.ID {
		t.Errorf("claimed post %d, want high-priority %d", first.PostID, urgent.ID)
	}
	if first.LockedAt == nil {
		t.Error("claim did not set the lease")
	}
}

func TestClaimNextIDTiebreak(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()

	oldest := enqueuePost(t, s, f.ID, "g1", "h1", 0)
	enqueuePost(t, s, f.ID, "g2", "h2", 0)

	// Pin identical timestamps so only the id can break the tie.
	created := time.Now().UTC().Add(-time.Minute)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE summary_queue SET created_at = ?`, created); err != nil {
		t.Fatalf("pin created_at: %v", err)
	}

	entry, err := s.ClaimNext(ctx, time.Now().UTC(), 5*time.Minute)
	if err != nil || entry == nil {
		t.Fatalf("claim: %+v, %v", entry, err)
	}
	if entry.PostID != oldest.ID {
		t.Errorf("claimed post %d, want lowest-id entry for post %d", entry.PostID, oldest.ID)
	}

	// Background entries come back oldest first.
	second, err := s.ClaimNext(ctx, now.Add(time.Second), 5*time.Minute)
	if err != nil || second == nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.ContentHash != "h1" {
		t.Errorf("second claim = %s, want oldest background entry h1", second.ContentHash)
	}
}

func TestClaimNextRespectsLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()
	lease := 5 * time.Minute

	p := enqueuePost(t, s, f.ID, "g1", "h1", 0)

	claimed, err := s.ClaimNext(ctx, now, lease)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	// While the lease is live the entry is invisible.
	if again, _ := s.ClaimNext(ctx, now.Add(time.Minute), lease); again != nil {
		t.Fatalf("claimed a leased entry: %+v", again)
	}

	// After the lease expires the entry is reclaimable.
	reclaimed, err := s.ClaimNext(ctx, now.Add(lease+time.Minute), lease)
	if err != nil || reclaimed == nil || reclaimed.PostID != p.ID {
		t.Fatalf("reclaim: %+v, %v", reclaimed, err)
	}

	// ReleaseQueueLock makes it immediately available again.
	if err := s.ReleaseQueueLock(ctx, reclaimed.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if e, _ := s.ClaimNext(ctx, now.Add(lease+2*time.Minute), lease); e == nil {
		t.Fatal("released entry not claimable")
	}
}

func TestRecordAttemptAndCooldown(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()

	enqueuePost(t, s, f.ID, "g1", "h1", 0)
	claimed, err := s.ClaimNext(ctx, now, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	cooldown := now.Add(time.Hour)
	attempts, err := s.RecordAttempt(ctx, claimed.ID, "rate limited", "temporary", &cooldown)
	if err != nil || attempts != 1 {
		t.Fatalf("attempts = %d, %v", attempts, err)
	}

	// Cooled-down entry is not ready, even though its lease is gone.
	if e, _ := s.ClaimNext(ctx, now.Add(2*time.Minute), time.Minute); e != nil {
		t.Fatalf("claimed a cooling entry: %+v", e)
	}
	// Ready again once the cooldown lapses.
	if e, _ := s.ClaimNext(ctx, now.Add(2*time.Hour), time.Minute); e == nil {
		t.Fatal("entry not ready after cooldown")
	}

	// Admin reset lifts cooldowns.
	if _, err := s.RecordAttempt(ctx, claimed.ID, "again", "temporary", &cooldown); err != nil {
		t.Fatal(err)
	}
	n, err := s.ClearCooldowns(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleared %d, %v", n, err)
	}
	if e, _ := s.ClaimNext(ctx, now.Add(3*time.Minute), time.Minute); e == nil {
		t.Fatal("entry not ready after cooldown clear")
	}
}

func TestRequeueResetsEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()

	p := enqueuePost(t, s, f.ID, "g1", "h1", 0)
	claimed, _ := s.ClaimNext(ctx, now, time.Minute)
	cooldown := now.Add(24 * time.Hour)
	s.RecordAttempt(ctx, claimed.ID, "boom", "temporary", &cooldown)

	// User-requested regeneration jumps the line and clears state.
	if err := s.Requeue(ctx, p.ID, "h1", 10); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	e, err := s.ClaimNext(ctx, now.Add(time.Second), time.Minute)
	if err != nil || e == nil {
		t.Fatalf("claim after requeue: %v", err)
	}
	if e.Priority != 10 || e.Attempts != 0 {
		t.Errorf("requeue did not reset entry: %+v", e)
	}
}

func TestQueueDedupOnEnqueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")

	p := enqueuePost(t, s, f.ID, "g1", "h1", 0)

	// A second enqueue for the same post is ignored.
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.Enqueue(ctx, p.ID, "h1", 5)
	})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	st, err := s.QueueStatus(ctx, time.Now().UTC(), time.Minute)
	if err != nil || st.Total != 1 {
		t.Fatalf("queue total = %d, %v; want 1", st.Total, err)
	}
}

func TestPruneQueueDropsReadPosts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()

	read := enqueuePost(t, s, f.ID, "g1", "h1", 0)
	enqueuePost(t, s, f.ID, "g2", "h2", 0)
	s.MarkRead(ctx, read.ID, true, now)

	n, err := s.PruneQueue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("pruned %d, %v; want 1", n, err)
	}

	// Deleting a post cascades to its queue entry.
	if err := s.DeleteFeed(ctx, f.ID); err != nil {
		t.Fatal(err)
	}
	st, _ := s.QueueStatus(ctx, now, time.Minute)
	if st.Total != 0 {
		t.Errorf("queue total after cascade = %d", st.Total)
	}
}

func TestBackfillQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := mustCreateFeed(t, s, "https://a.com/feed")
	now := time.Now().UTC()

	// Unsummarized post with a hash: backfill candidate.
	candidate := &core.Post{FeedID: f.ID, GUID: "g1", ContentHash: "h1", FetchedAt: now, SortDate: now}
	// Already summarized: skipped.
	summarized := &core.Post{FeedID: f.ID, GUID: "g2", ContentHash: "h2", FetchedAt: now, SortDate: now}
	// Permanently failed: skipped.
	failed := &core.Post{FeedID: f.ID, GUID: "g3", ContentHash: "h3", FetchedAt: now, SortDate: now}
	for _, p := range []*core.Post{candidate, summarized, failed} {
		mustInsertPost(t, s, p)
	}

	if err := s.UpsertSummary(ctx, &core.AISummary{ContentHash: "h2", Summary: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, "h3", "garbage output"); err != nil {
		t.Fatal(err)
	}

	n, err := s.BackfillQueue(ctx, -1, 100)
	if err != nil || n != 1 {
		t.Fatalf("backfilled %d, %v; want 1", n, err)
	}

	e, err := s.ClaimNext(ctx, now, time.Minute)
	if err != nil || e == nil {
		t.Fatalf("claim: %v", err)
	}
	if e.PostID != candidate.ID || e.Priority != -1 {
		t.Errorf("backfill entry = %+v", e)
	}

	// Running backfill again adds nothing.
	if n, _ := s.BackfillQueue(ctx, -1, 100); n != 0 {
		t.Errorf("second backfill added %d", n)
	}
}

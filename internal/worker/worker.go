// Package worker drains the summary queue: claim an entry, gather article
// content, call the LLM and persist the outcome.
package worker

import (
	"context"
	"errors"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/extract"
	"skimmer/internal/llm"
	"skimmer/internal/logger"
	"skimmer/internal/store"
)

const (
	maxAttempts     = 5
	failureCooldown = 24 * time.Hour
	extractPause    = 2 * time.Second
)

// Summarizer is the LLM dependency, satisfied by llm.Client.
type Summarizer interface {
	GenerateSummary(ctx context.Context, content, title string) (*llm.SummaryResult, error)
	Ready(ctx context.Context, now time.Time) bool
}

// Extractor fetches full article text, satisfied by extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, url string) (*extract.Result, error)
}

// Worker processes one queue entry per tick.
type Worker struct {
	st          *store.Store
	llm         Summarizer
	extractor   Extractor
	lockTimeout time.Duration
	tick        time.Duration

	// pause after a full-content fetch, shortened in tests
	pause time.Duration
}

// New builds a worker. tick is the poll interval, lockTimeout the queue
// lease duration.
func New(st *store.Store, s Summarizer, e Extractor, tick, lockTimeout time.Duration) *Worker {
	return &Worker{
		st:          st,
		llm:         s,
		extractor:   e,
		lockTimeout: lockTimeout,
		tick:        tick,
		pause:       extractPause,
	}
}

// Run polls the queue until the context is cancelled. Errors are logged and
// the loop continues; a broken iteration must not take down the scheduler.
func (w *Worker) Run(ctx context.Context) {
	t := time.NewTicker(w.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.ProcessNext(ctx); err != nil {
				logger.Error("Summary worker iteration failed", "error", err.Error())
			}
		}
	}
}

// ProcessNext claims and processes at most one queue entry. Returns nil when
// the queue is empty, the claim was lost to another worker, or the LLM is
// not callable right now.
func (w *Worker) ProcessNext(ctx context.Context) error {
	now := time.Now().UTC()

	// Check the circuit and key availability before claiming, so blocked
	// upstreams do not burn attempts.
	if !w.llm.Ready(ctx, now) {
		return nil
	}

	entry, err := w.st.ClaimNext(ctx, now, w.lockTimeout)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	return w.process(ctx, entry, now)
}

func (w *Worker) process(ctx context.Context, entry *core.QueueEntry, now time.Time) error {
	// Deduplication payoff: another post with the same content already got
	// its summary.
	existing, err := w.st.GetSummaryByHash(ctx, entry.ContentHash)
	if err != nil {
		return err
	}
	if existing != nil {
		return w.st.DeleteQueueEntry(ctx, entry.ID)
	}

	post, err := w.st.GetPost(ctx, entry.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		return w.st.DeleteQueueEntry(ctx, entry.ID)
	}
	if post.IsRead {
		logger.Debug("Post already read, skipping summary", "post_id", post.ID)
		return w.st.DeleteQueueEntry(ctx, entry.ID)
	}

	content := post.FullContent
	if content == "" && post.URL != "" && w.extractor != nil {
		if res, err := w.extractor.Extract(ctx, post.URL); err != nil {
			logger.Warn("Full content extraction failed",
				"post_id", post.ID, "error", err.Error())
		} else {
			content = res.Content
			if err := w.st.SetFullContent(ctx, post.ID, content, now); err != nil {
				return err
			}
		}
		// Space out article fetches to stay under upstream rate limits.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pause):
		}
	}
	if content == "" {
		content = post.Content
	}
	if content == "" {
		return w.st.DeleteQueueEntry(ctx, entry.ID)
	}

	result, err := w.llm.GenerateSummary(ctx, content, post.Title)
	switch {
	case err == nil:
		return w.saveResult(ctx, entry, result)

	case errors.Is(err, llm.ErrNoAvailableKey):
		// Not the entry's fault; release without counting an attempt.
		logger.Debug("All API keys in cooldown, releasing entry", "post_id", post.ID)
		return w.st.ReleaseQueueLock(ctx, entry.ID)

	case llm.IsPermanent(err):
		attempts, aerr := w.st.RecordAttempt(ctx, entry.ID, err.Error(), "permanent", nil)
		if aerr != nil {
			return aerr
		}
		if attempts >= maxAttempts {
			logger.Error("Summary permanently failed",
				"post_id", post.ID, "error", err.Error())
			if ferr := w.st.RecordFailure(ctx, entry.ContentHash, err.Error()); ferr != nil {
				return ferr
			}
			return w.st.DeleteQueueEntry(ctx, entry.ID)
		}
		logger.Warn("Permanent summary error",
			"post_id", post.ID, "attempts", attempts, "error", err.Error())
		return nil

	default:
		attempts, aerr := w.st.RecordAttempt(ctx, entry.ID, err.Error(), "temporary", nil)
		if aerr != nil {
			return aerr
		}
		if attempts >= maxAttempts {
			logger.Warn("Summary repeatedly failing, entering cooldown",
				"post_id", post.ID, "error", err.Error())
			return w.st.CooldownEntry(ctx, entry.ID, now.Add(failureCooldown))
		}
		logger.Warn("Temporary summary error",
			"post_id", post.ID, "attempts", attempts, "error", err.Error())
		return nil
	}
}

func (w *Worker) saveResult(ctx context.Context, entry *core.QueueEntry, result *llm.SummaryResult) error {
	// An empty result marks garbage content; the row still gets written so
	// the backfill sweep does not re-enqueue the hash forever.
	sum := &core.AISummary{
		ContentHash:     entry.ContentHash,
		Summary:         result.Summary,
		OneLineSummary:  result.OneLineSummary,
		TranslatedTitle: result.TranslatedTitle,
	}
	if err := w.st.UpsertSummary(ctx, sum); err != nil {
		return err
	}
	if len(result.Tags) > 0 {
		if err := w.st.ReplaceTagsForHash(ctx, entry.ContentHash, result.Tags); err != nil {
			return err
		}
	}
	return w.st.DeleteQueueEntry(ctx, entry.ID)
}

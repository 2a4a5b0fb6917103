package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/logger"
	"skimmer/internal/profile"
	"skimmer/internal/store"
)

const (
	maxFeedsPerPass = 20
	feedSpacing     = time.Second

	backfillPriority = -1
	backfillLimit    = 500

	// fullContentRetention is how long full article text is kept on read,
	// unstarred posts before being cleared to reclaim space.
	fullContentRetention = 30

	minFreeDiskBytes = 500 * 1024 * 1024
)

func (s *Scheduler) updateFeedsLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.FeedUpdateIntervalMinutes) * time.Minute
	for {
		s.RunFeedUpdate(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// RunFeedUpdate ingests the most neglected eligible feeds, spaced out to be
// polite to upstreams, then backfills the summary queue with any hashed
// posts that slipped through without an entry.
func (s *Scheduler) RunFeedUpdate(ctx context.Context) {
	feeds, err := s.st.EligibleFeeds(ctx, time.Now().UTC())
	if err != nil {
		logger.Error("Failed to list eligible feeds", "error", err.Error())
		return
	}
	if len(feeds) > maxFeedsPerPass {
		feeds = feeds[:maxFeedsPerPass]
	}

	for i := range feeds {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.ingestor.IngestFeed(ctx, &feeds[i], time.Now().UTC()); err != nil {
			logger.Error("Feed ingest failed",
				"feed_id", feeds[i].ID, "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.spacing):
		}
	}

	if n, err := s.st.BackfillQueue(ctx, backfillPriority, backfillLimit); err != nil {
		logger.Error("Queue backfill failed", "error", err.Error())
	} else if n > 0 {
		logger.Info("Backfilled summary queue", "entries", n)
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	for {
		next := nextDailyRun(time.Now().UTC(), s.cfg.CleanupHour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if err := s.RunCleanup(ctx); err != nil {
			logger.Error("Retention cleanup failed", "error", err.Error())
		}
	}
}

// nextDailyRun returns the next occurrence of the given hour, UTC.
func nextDailyRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunCleanup applies the retention policy: old read posts go, stale unread
// posts go, full content of long-read posts is cleared, orphaned summaries
// and expired token blacklist entries are pruned. Starred posts are never
// touched. Counts and duration are logged to the cleanup table.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()

	maxAge, err := s.st.EffectiveInt(ctx, store.SettingMaxPostAgeDays, s.cfg.MaxPostAgeDays)
	if err != nil {
		return err
	}
	maxUnread, err := s.st.EffectiveInt(ctx, store.SettingMaxUnreadDays, s.cfg.MaxUnreadDays)
	if err != nil {
		return err
	}

	read, err := s.st.DeleteReadPostsBefore(ctx, now.AddDate(0, 0, -maxAge))
	if err != nil {
		return err
	}
	unread, err := s.st.DeleteUnreadPostsBefore(ctx, now.AddDate(0, 0, -maxUnread))
	if err != nil {
		return err
	}
	cleared, err := s.st.ClearFullContentBefore(ctx, now.AddDate(0, 0, -fullContentRetention))
	if err != nil {
		return err
	}
	orphans, err := s.st.DeleteOrphanSummaries(ctx)
	if err != nil {
		return err
	}
	if _, err := s.st.PruneBlacklist(ctx, now); err != nil {
		return err
	}

	log := &core.CleanupLog{
		ExecutedAt:         now,
		PostsRemoved:       int(read),
		UnreadRemoved:      int(unread),
		FullContentCleared: int(cleared),
		DurationSeconds:    time.Since(start).Seconds(),
	}
	if err := s.st.InsertCleanupLog(ctx, log); err != nil {
		return err
	}

	logger.Info("Retention cleanup complete",
		"read_removed", read, "unread_removed", unread,
		"full_content_cleared", cleared, "orphan_summaries", orphans,
		"duration_seconds", log.DurationSeconds)
	return nil
}

func (s *Scheduler) healthLoop(ctx context.Context) {
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.RunHealthCheck(ctx); err != nil {
				logger.Error("Health check failed", "error", err.Error())
			}
		}
	}
}

// RunHealthCheck probes the database, free disk space and database size,
// and stores a health warning setting when anything is off.
func (s *Scheduler) RunHealthCheck(ctx context.Context) error {
	var warnings []string

	if err := s.st.Ping(ctx); err != nil {
		warnings = append(warnings, "database: "+err.Error())
	}

	if free, err := diskFree(filepath.Dir(s.st.Path())); err != nil {
		logger.Warn("Could not read disk usage", "error", err.Error())
	} else if free < minFreeDiskBytes {
		warnings = append(warnings,
			fmt.Sprintf("low disk space: %d MB free", free/(1024*1024)))
	}

	if max := int64(s.cfg.MaxDBSizeMB) * 1024 * 1024; max > 0 {
		if size := s.st.FileSize(); size > max {
			warnings = append(warnings,
				fmt.Sprintf("database size %d MB exceeds limit %d MB",
					size/(1024*1024), s.cfg.MaxDBSizeMB))
		}
	}

	if len(warnings) > 0 {
		logger.Warn("Health check warnings", "warnings", strings.Join(warnings, "; "))
		return s.st.SetSetting(ctx, store.SettingHealthWarning, strings.Join(warnings, "; "))
	}
	return s.st.DeleteSetting(ctx, store.SettingHealthWarning)
}

// diskFree returns the bytes available to this process on the filesystem
// holding path.
func diskFree(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func (s *Scheduler) profileLoop(ctx context.Context) {
	t := time.NewTicker(profileInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stale, err := profile.IsStale(ctx, s.st)
			if err != nil {
				logger.Error("Profile staleness check failed", "error", err.Error())
				continue
			}
			if !stale {
				continue
			}
			if _, err := s.profiles.Generate(ctx, time.Now().UTC()); err != nil {
				logger.Error("Profile generation failed", "error", err.Error())
			}
		}
	}
}

func (s *Scheduler) suggestionLoop(ctx context.Context) {
	t := time.NewTicker(suggestionInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.suggests.Process(ctx, time.Now().UTC()); err != nil {
				logger.Error("Suggestion pass failed", "error", err.Error())
			}
		}
	}
}

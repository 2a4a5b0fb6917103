// Package scheduler runs the background jobs behind a single-leader lock.
// Multiple instances may run; only the one holding the lock row with a
// fresh heartbeat dispatches jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"skimmer/internal/config"
	"skimmer/internal/ingest"
	"skimmer/internal/logger"
	"skimmer/internal/profile"
	"skimmer/internal/store"
	"skimmer/internal/suggest"
	"skimmer/internal/worker"
)

const (
	heartbeatInterval = 30 * time.Second
	lockTimeout       = 60 * time.Second

	healthInterval     = 5 * time.Minute
	profileInterval    = 6 * time.Hour
	suggestionInterval = time.Hour
)

// Scheduler owns leader election and the background job set.
type Scheduler struct {
	st       *store.Store
	cfg      *config.Settings
	ingestor *ingest.Ingestor
	worker   *worker.Worker
	profiles *profile.Generator
	suggests *suggest.Engine

	holder  string
	spacing time.Duration
}

// New builds a Scheduler with a random holder identity.
func New(st *store.Store, cfg *config.Settings, ing *ingest.Ingestor, w *worker.Worker, pg *profile.Generator, se *suggest.Engine) *Scheduler {
	return &Scheduler{
		st:       st,
		cfg:      cfg,
		ingestor: ing,
		worker:   w,
		profiles: pg,
		suggests: se,
		holder:   uuid.NewString(),
		spacing:  feedSpacing,
	}
}

// Holder returns the instance's lock identity.
func (s *Scheduler) Holder() string { return s.holder }

// Run contends for leadership until ctx is cancelled. A follower retries
// acquisition on the heartbeat cadence; a demoted leader rejoins the
// followers.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		ok, err := s.st.AcquireLock(ctx, s.holder, time.Now().UTC(), lockTimeout)
		if err != nil {
			logger.Error("Scheduler lock acquisition failed", "error", err.Error())
		}
		if ok {
			logger.Info("Scheduler leadership acquired", "holder", s.holder)
			s.lead(ctx)
			if ctx.Err() != nil {
				// Clean shutdown hands the lock over immediately.
				if err := s.st.ReleaseLock(context.WithoutCancel(ctx), s.holder); err != nil {
					logger.Warn("Failed to release scheduler lock", "error", err.Error())
				}
				return
			}
			logger.Warn("Scheduler demoted to follower", "holder", s.holder)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(heartbeatInterval):
		}
	}
}

// lead runs the job set while the heartbeat holds. Returns when the lock is
// lost or ctx is cancelled; all jobs are stopped before returning.
func (s *Scheduler) lead(ctx context.Context) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { s.updateFeedsLoop(jobCtx); return nil })
	g.Go(func() error { s.cleanupLoop(jobCtx); return nil })
	g.Go(func() error { s.healthLoop(jobCtx); return nil })
	g.Go(func() error { s.worker.Run(jobCtx); return nil })
	g.Go(func() error { s.profileLoop(jobCtx); return nil })
	g.Go(func() error { s.suggestionLoop(jobCtx); return nil })

	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			g.Wait()
			return
		case <-t.C:
			ok, err := s.st.Heartbeat(ctx, s.holder, time.Now().UTC())
			if err != nil {
				// Transient database trouble; keep leading and retry.
				logger.Error("Scheduler heartbeat failed", "error", err.Error())
				continue
			}
			if !ok {
				// Zero rows updated: another instance took the lock.
				cancel()
				g.Wait()
				return
			}
		}
	}
}

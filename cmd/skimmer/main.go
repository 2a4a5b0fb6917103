// Command skimmer runs the feed aggregator: an HTTP API plus the background
// scheduler that fetches feeds, writes summaries and curates suggestions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"skimmer/internal/auth"
	"skimmer/internal/config"
	"skimmer/internal/extract"
	"skimmer/internal/ingest"
	"skimmer/internal/llm"
	"skimmer/internal/logger"
	"skimmer/internal/profile"
	"skimmer/internal/scheduler"
	"skimmer/internal/server"
	"skimmer/internal/store"
	"skimmer/internal/suggest"
	"skimmer/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:           "skimmer",
		Short:         "Single-user RSS aggregator with LLM summaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), refreshCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads .env and settings, initializes logging and opens the store.
func setup(ctx context.Context) (*config.Settings, *store.Store, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			client := llm.NewClient(ctx, cfg, st)
			extractor := extract.New()
			ingestor := ingest.New(st)
			profiles := profile.NewGenerator(st, client, cfg.PromptsPath)
			suggests := suggest.NewEngine(st, client, cfg.PromptsPath)

			w := worker.New(st, client, extractor, cfg.WorkerTick(),
				time.Duration(cfg.SummaryLockTimeoutSeconds)*time.Second)
			sched := scheduler.New(st, cfg, ingestor, w, profiles, suggests)

			am := auth.New(st, cfg.JWTSecret, cfg.AppPassword, cfg.JWTExpirationHours)
			api := server.New(st, cfg, am, client, extractor, ingestor, profiles, suggests)

			logger.Info("Starting skimmer",
				"addr", cfg.ListenAddr, "db", cfg.DatabasePath,
				"scheduler_holder", sched.Holder())

			var g errgroup.Group
			g.Go(func() error { sched.Run(ctx); return nil })
			g.Go(func() error { return api.ListenAndServe(ctx) })
			return g.Wait()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			// Open already migrates; reaching here means the schema is current.
			fmt.Println("Database is up to date:", st.Path())
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [feed-id|all]",
		Short: "Fetch one feed (or all feeds) once and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, st, err := setup(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			ingestor := ingest.New(st)
			now := time.Now().UTC()

			if args[0] == "all" {
				feeds, err := st.EligibleFeeds(ctx, now)
				if err != nil {
					return err
				}
				for i := range feeds {
					result, err := ingestor.IngestFeed(ctx, &feeds[i], time.Now().UTC())
					if err != nil {
						return err
					}
					fmt.Printf("%s: %d new posts\n", feeds[i].Title, result.NewPosts)
				}
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("feed id must be a number or 'all'")
			}
			feed, err := st.GetFeed(ctx, id)
			if err != nil {
				return err
			}
			if feed == nil {
				return fmt.Errorf("feed %d not found", id)
			}
			result, err := ingestor.IngestFeed(ctx, feed, now)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d new posts\n", feed.Title, result.NewPosts)
			return nil
		},
	}
}

// Package server is the HTTP API: auth, feeds, posts, preferences, admin and
// the image proxy, all under /api.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"skimmer/internal/auth"
	"skimmer/internal/config"
	"skimmer/internal/extract"
	"skimmer/internal/feedparse"
	"skimmer/internal/ingest"
	"skimmer/internal/llm"
	"skimmer/internal/profile"
	"skimmer/internal/store"
	"skimmer/internal/suggest"
)

// modelCacheTTL bounds how often the provider's model list is refetched.
const modelCacheTTL = 30 * time.Minute

// Server wires the HTTP handlers to the application services.
type Server struct {
	st        *store.Store
	cfg       *config.Settings
	auth      *auth.Manager
	llm       *llm.Client
	extractor *extract.Extractor
	ingestor  *ingest.Ingestor
	feeds     *feedparse.Fetcher
	profiles  *profile.Generator
	suggests  *suggest.Engine

	loginLimiter *ipLimiter
	proxyLimiter *ipLimiter

	modelMu      sync.Mutex
	cachedModels []string
	modelsAt     time.Time
}

func New(st *store.Store, cfg *config.Settings, am *auth.Manager, lc *llm.Client,
	ex *extract.Extractor, ing *ingest.Ingestor, pg *profile.Generator, se *suggest.Engine) *Server {
	return &Server{
		st:        st,
		cfg:       cfg,
		auth:      am,
		llm:       lc,
		extractor: ex,
		ingestor:  ing,
		feeds:     feedparse.New(),
		profiles:  pg,
		suggests:  se,

		loginLimiter: newIPLimiter(perMinute(cfg.LoginRateLimit), cfg.LoginRateLimit),
		proxyLimiter: newIPLimiter(perMinute(cfg.ProxyRateLimitPerMin), cfg.ProxyRateLimitPerMin),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	if origins := s.corsOrigins(); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.With(s.loginLimiter.middleware).Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", s.handleListCategories)
				r.Post("/", s.handleCreateCategory)
				r.Post("/reorder", s.handleReorderCategories)
				r.Put("/{id}", s.handleUpdateCategory)
				r.Delete("/{id}", s.handleDeleteCategory)
			})

			r.Route("/feeds", func(r chi.Router) {
				r.Get("/", s.handleListFeeds)
				r.Post("/", s.handleCreateFeed)
				r.Post("/discover", s.handleDiscoverFeeds)
				r.Post("/import", s.handleImportOPML)
				r.Get("/export", s.handleExportOPML)
				r.Put("/{id}", s.handleUpdateFeed)
				r.Delete("/{id}", s.handleDeleteFeed)
				r.Post("/{id}/refresh", s.handleRefreshFeed)
				r.Post("/{id}/enable", s.handleEnableFeed)
			})

			r.Route("/posts", func(r chi.Router) {
				r.Get("/", s.handleListPosts)
				r.Post("/mark-read", s.handleBatchMarkRead)
				r.Get("/{id}", s.handleGetPost)
				r.Patch("/{id}/read", s.handleMarkRead)
				r.Patch("/{id}/star", s.handleStar)
				r.Patch("/{id}/like", s.handleLike)
				r.Get("/{id}/redirect", s.handleRedirect)
				r.Get("/{id}/full-content", s.handleFullContent)
				r.Post("/{id}/regenerate-summary", s.handleRegenerateSummary)
			})

			r.With(s.proxyLimiter.middleware).Get("/proxy/image", s.handleProxyImage)

			r.Get("/preferences", s.handleGetPreferences)
			r.Put("/preferences", s.handlePutPreferences)

			r.Get("/suggestions/status", s.handleSuggestionStatus)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/status", s.handleAdminStatus)
				r.Get("/queue-status", s.handleQueueStatus)
				r.Post("/clear-queue-cooldowns", s.handleClearCooldowns)
				r.Post("/reprocess-summary", s.handleReprocessSummary)
				r.Post("/vacuum", s.handleVacuum)
				r.Get("/models", s.handleModels)
				r.Get("/languages", s.handleLanguages)
				r.Get("/locales", s.handleLocales)
				r.Get("/config", s.handleConfig)
				r.Post("/regenerate-profile", s.handleRegenerateProfile)
				r.Post("/process-suggestions", s.handleProcessSuggestions)
			})
		})
	})

	return r
}

func (s *Server) corsOrigins() []string {
	var origins []string
	for _, o := range strings.Split(s.cfg.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	warning, _, _ := s.st.GetSetting(r.Context(), store.SettingHealthWarning)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"warning": warning,
	})
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

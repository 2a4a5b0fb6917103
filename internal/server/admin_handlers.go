package server

import (
	"net/http"
	"time"

	"skimmer/internal/store"
)

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.st.GetStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	warning, _, _ := s.st.GetSetting(ctx, store.SettingHealthWarning)
	lastCleanup, _ := s.st.LastCleanup(ctx)
	lock, _ := s.st.CurrentLock(ctx)

	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          stats,
		"health_warning": warning,
		"last_cleanup":   lastCleanup,
		"scheduler_lock": lock,
		"breaker_state":  s.llm.Breaker.State(),
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	lockTimeout := time.Duration(s.cfg.SummaryLockTimeoutSeconds) * time.Second
	stats, err := s.st.QueueStatus(r.Context(), now, lockTimeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":         stats,
		"keys":          s.llm.Rotator.Status(now),
		"breaker_state": s.llm.Breaker.State(),
	})
}

func (s *Server) handleClearCooldowns(w http.ResponseWriter, r *http.Request) {
	n, err := s.st.ClearCooldowns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cooldowns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handleReprocessSummary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContentHash string `json:"content_hash"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ContentHash == "" {
		writeError(w, http.StatusBadRequest, "content_hash is required")
		return
	}

	ctx := r.Context()
	post, err := s.st.PostByHash(ctx, body.ContentHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up hash")
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "no post carries that hash")
		return
	}

	if err := s.st.DeleteSummaryByHash(ctx, body.ContentHash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to drop summary")
		return
	}
	if err := s.st.DeleteFailure(ctx, body.ContentHash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear failure record")
		return
	}
	if err := s.st.Requeue(ctx, post.ID, body.ContentHash, 10); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to requeue")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Vacuum(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "vacuum failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"database_size": s.st.FileSize(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()

	if time.Since(s.modelsAt) > modelCacheTTL || s.cachedModels == nil {
		models, err := s.llm.Models(r.Context())
		if err != nil {
			if s.cachedModels == nil {
				writeError(w, http.StatusBadGateway, "failed to list models")
				return
			}
		} else {
			s.cachedModels = models
			s.modelsAt = time.Now()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": s.cachedModels})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": []string{
		"English", "Brazilian Portuguese", "Spanish", "French", "German",
		"Italian", "Japanese", "Korean", "Simplified Chinese",
	}})
}

func (s *Server) handleLocales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"locales": []string{
		"en", "pt-BR", "es", "fr", "de", "it", "ja", "ko", "zh-CN",
	}})
}

// handleConfig exposes the non-secret runtime configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_update_interval_minutes": s.cfg.FeedUpdateIntervalMinutes,
		"cleanup_hour":                 s.cfg.CleanupHour,
		"max_post_age_days":            s.cfg.MaxPostAgeDays,
		"max_unread_days":              s.cfg.MaxUnreadDays,
		"max_db_size_mb":               s.cfg.MaxDBSizeMB,
		"cerebras_model":               s.cfg.CerebrasModel,
		"cerebras_max_rpm":             s.cfg.CerebrasMaxRPM,
		"summary_language":             s.cfg.SummaryLanguage,
		"api_keys_configured":          len(s.cfg.APIKeys()),
	})
}

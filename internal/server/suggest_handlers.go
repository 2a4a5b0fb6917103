package server

import (
	"net/http"
	"time"

	"skimmer/internal/profile"
	"skimmer/internal/store"
)

func (s *Server) handleSuggestionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	current, err := profile.Current(ctx, s.st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	stale, err := profile.IsStale(ctx, s.st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check staleness")
		return
	}
	_, suggested, err := s.st.ListPosts(ctx, store.PostFilter{SuggestedOnly: true, Limit: 1})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count suggestions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile":         current,
		"profile_stale":   stale,
		"suggested_posts": suggested,
	})
}

func (s *Server) handleRegenerateProfile(w http.ResponseWriter, r *http.Request) {
	generated, err := s.profiles.Generate(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadGateway, "profile generation failed")
		return
	}
	if generated == nil {
		writeError(w, http.StatusUnprocessableEntity, "not enough liked posts to build a profile")
		return
	}
	writeJSON(w, http.StatusOK, generated)
}

func (s *Server) handleProcessSuggestions(w http.ResponseWriter, r *http.Request) {
	marked, err := s.suggests.Process(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadGateway, "suggestion pass failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"suggested": marked})
}

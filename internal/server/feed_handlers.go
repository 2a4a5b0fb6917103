package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/feedparse"
	"skimmer/internal/opml"
	"skimmer/internal/store"
	"skimmer/internal/urlnorm"
)

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.st.ListFeeds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list feeds")
		return
	}
	if feeds == nil {
		feeds = []core.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

type feedBody struct {
	URL                string `json:"url"`
	Title              string `json:"title"`
	CategoryID         *int64 `json:"category_id"`
	AllowDuplicateURLs bool   `json:"allow_duplicate_urls"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var body feedBody
	if !decodeBody(w, r, &body) {
		return
	}
	body.URL = strings.TrimSpace(body.URL)
	if err := validateFeedURL(body.URL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feed url")
		return
	}

	feed := &core.Feed{
		URL:                body.URL,
		Title:              strings.TrimSpace(body.Title),
		CategoryID:         body.CategoryID,
		AllowDuplicateURLs: body.AllowDuplicateURLs,
	}
	if feed.Title == "" {
		feed.Title = urlnorm.Domain(body.URL)
	}

	if err := s.st.CreateFeed(r.Context(), feed); err != nil {
		if errors.Is(err, store.ErrDuplicateFeed) {
			writeError(w, http.StatusConflict, "feed already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create feed")
		return
	}

	// First fetch happens inline so the feed shows content immediately.
	if _, err := s.ingestor.IngestFeed(r.Context(), feed, time.Now().UTC()); err == nil {
		if reloaded, err := s.st.GetFeed(r.Context(), feed.ID); err == nil && reloaded != nil {
			feed = reloaded
		}
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body feedBody
	if !decodeBody(w, r, &body) {
		return
	}

	feed, err := s.st.GetFeed(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}
	if feed == nil {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}

	if title := strings.TrimSpace(body.Title); title != "" {
		feed.Title = title
	}
	feed.CategoryID = body.CategoryID
	feed.AllowDuplicateURLs = body.AllowDuplicateURLs
	if err := s.st.UpdateFeed(r.Context(), feed); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update feed")
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.st.DeleteFeed(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete feed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	feed, err := s.st.GetFeed(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}
	if feed == nil {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}

	result, err := s.ingestor.IngestFeed(r.Context(), feed, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnableFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.st.EnableFeed(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enable feed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDiscoverFeeds(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if err := validateFeedURL(rawURL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	found, err := s.feeds.Discover(r.Context(), rawURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not reach site")
		return
	}
	if found == nil {
		found = []feedparse.DiscoveredFeed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": found})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opml.MaxImportSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "opml document too large")
		return
	}

	subs, err := opml.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opml document")
		return
	}

	ctx := r.Context()
	categories := map[string]int64{}
	existing, err := s.st.ListCategories(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load categories")
		return
	}
	for _, c := range existing {
		categories[c.Name] = c.ID
	}

	imported, skipped := 0, 0
	for _, sub := range subs {
		feed := &core.Feed{URL: sub.FeedURL, Title: sub.Title, SiteURL: sub.SiteURL}
		if feed.Title == "" {
			feed.Title = urlnorm.Domain(sub.FeedURL)
		}
		if sub.Category != "" {
			id, ok := categories[sub.Category]
			if !ok {
				c := &core.Category{Name: sub.Category}
				if err := s.st.CreateCategory(ctx, c); err == nil {
					categories[sub.Category] = c.ID
					id, ok = c.ID, true
				}
			}
			if ok {
				feed.CategoryID = &id
			}
		}

		switch err := s.st.CreateFeed(ctx, feed); {
		case err == nil:
			imported++
		case errors.Is(err, store.ErrDuplicateFeed):
			skipped++
		default:
			writeError(w, http.StatusInternalServerError, "failed to import feeds")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "skipped": skipped})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	feeds, err := s.st.ListFeeds(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list feeds")
		return
	}
	categories, err := s.st.ListCategories(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	names := map[int64]string{}
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	subs := make([]opml.Subscription, 0, len(feeds))
	for _, f := range feeds {
		sub := opml.Subscription{Title: f.Title, FeedURL: f.URL, SiteURL: f.SiteURL}
		if f.CategoryID != nil {
			sub.Category = names[*f.CategoryID]
		}
		subs = append(subs, sub)
	}

	out, err := opml.Export("skimmer subscriptions", subs, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render opml")
		return
	}
	w.Header().Set("Content-Type", "text/x-opml")
	w.Header().Set("Content-Disposition", `attachment; filename="skimmer.opml"`)
	w.Write(out)
}

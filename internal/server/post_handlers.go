package server

import (
	"net/http"
	"strconv"
	"time"

	"skimmer/internal/core"
	"skimmer/internal/profile"
	"skimmer/internal/store"
)

// postView decorates a post with its shared summary and tags for responses.
type postView struct {
	core.Post
	Summary *core.AISummary `json:"summary,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
}

func (s *Server) viewOf(r *http.Request, p *core.Post) postView {
	v := postView{Post: *p}
	if p.ContentHash != "" {
		if sum, err := s.st.GetSummaryByHash(r.Context(), p.ContentHash); err == nil {
			v.Summary = sum
		}
	}
	if tags, err := s.st.PostTags(r.Context(), p.ID); err == nil {
		v.Tags = tags
	}
	return v
}

func queryInt64(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func queryBool(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	filter := store.PostFilter{
		FeedID:        queryInt64(r, "feed_id"),
		CategoryID:    queryInt64(r, "category_id"),
		UnreadOnly:    queryBool(r, "unread_only"),
		StarredOnly:   queryBool(r, "starred_only"),
		SuggestedOnly: queryBool(r, "suggested_only"),
		Limit:         50,
	}
	if v := queryInt64(r, "limit"); v != nil && *v > 0 && *v <= 100 {
		filter.Limit = int(*v)
	}
	if v := queryInt64(r, "offset"); v != nil && *v >= 0 {
		filter.Offset = int(*v)
	}

	posts, total, err := s.st.ListPosts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	views := make([]postView, 0, len(posts))
	for i := range posts {
		views = append(views, s.viewOf(r, &posts[i]))
	}

	unread, err := s.st.UnreadCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count unread posts")
		return
	}
	starred, err := s.st.StarredCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count starred posts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"posts":         views,
		"total":         total,
		"has_more":      filter.Offset+len(posts) < total,
		"unread_counts": unread,
		"starred_count": starred,
	})
}

// loadPost fetches the post or writes the 404.
func (s *Server) loadPost(w http.ResponseWriter, r *http.Request) (*core.Post, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	post, err := s.st.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return nil, false
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return nil, false
	}
	return post, true
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(r, post))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	var body struct {
		Read *bool `json:"read"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	read := body.Read == nil || *body.Read

	if err := s.st.MarkRead(r.Context(), post.ID, read, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": read})
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	var body struct {
		Starred *bool `json:"starred"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	starred := body.Starred == nil || *body.Starred

	if err := s.st.Star(r.Context(), post.ID, starred, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": starred})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	var body struct {
		Liked *bool `json:"liked"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	liked := body.Liked == nil || *body.Liked

	if err := s.st.Like(r.Context(), post.ID, liked, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}
	// Likes feed the interest profile; flag it for regeneration.
	if err := profile.MarkStale(r.Context(), s.st); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to flag profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

func (s *Server) handleBatchMarkRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	n, err := s.st.MarkManyRead(r.Context(), body.IDs, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark posts read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	target, err := validateExternalURL(post.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "post url is not safe to follow")
		return
	}
	if err := s.st.MarkRead(r.Context(), post.ID, true, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark post read")
		return
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleFullContent(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	if post.FullContent != "" {
		writeJSON(w, http.StatusOK, map[string]string{"full_content": post.FullContent})
		return
	}
	if post.URL == "" {
		writeError(w, http.StatusUnprocessableEntity, "post has no source url")
		return
	}

	result, err := s.extractor.Extract(r.Context(), post.URL)
	now := time.Now().UTC()
	if err != nil {
		s.st.SetFetchFullAttempted(r.Context(), post.ID, now)
		writeError(w, http.StatusBadGateway, "content extraction failed")
		return
	}
	if err := s.st.SetFullContent(r.Context(), post.ID, result.Content, now); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"full_content": result.Content})
}

func (s *Server) handleRegenerateSummary(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	if post.ContentHash == "" {
		writeError(w, http.StatusUnprocessableEntity, "post has no content to summarize")
		return
	}

	ctx := r.Context()
	if err := s.st.DeleteSummaryByHash(ctx, post.ContentHash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to drop summary")
		return
	}
	if err := s.st.DeleteFailure(ctx, post.ContentHash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear failure record")
		return
	}
	if err := s.st.Requeue(ctx, post.ID, post.ContentHash, 10); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to requeue post")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

package server

import (
	"net/http"
	"strings"

	"skimmer/internal/core"
)

const maxCategoryNameLen = 100

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.st.ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []core.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

type categoryBody struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
	Position int    `json:"position"`
}

func (b *categoryBody) validate(w http.ResponseWriter) bool {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" || len(b.Name) > maxCategoryNameLen {
		writeError(w, http.StatusBadRequest, "category name must be 1-100 characters")
		return false
	}
	return true
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var body categoryBody
	if !decodeBody(w, r, &body) || !body.validate(w) {
		return
	}

	c := &core.Category{Name: body.Name, ParentID: body.ParentID, Position: body.Position}
	if err := s.st.CreateCategory(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body categoryBody
	if !decodeBody(w, r, &body) || !body.validate(w) {
		return
	}

	existing, err := s.st.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load category")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "category not found")
		return
	}

	existing.Name = body.Name
	existing.ParentID = body.ParentID
	existing.Position = body.Position
	if err := s.st.UpdateCategory(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update category")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.st.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleReorderCategories(w http.ResponseWriter, r *http.Request) {
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
	if err := s.st.ReorderCategories(r.Context(), body.IDs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reorder categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meur/mistbook/internal/models"
)

// tagQuery reads the tag filters. Owner parameters are OR-combined; type and
// no_theme narrow the result.
func tagQuery(r *http.Request) models.TagQuery {
	q := r.URL.Query()
	tq := models.TagQuery{
		CharacterID:  q.Get("character_id"),
		FellowshipID: q.Get("fellowship_id"),
		ThemeIDs:     q["theme_id"],
		WithoutTheme: q.Get("no_theme") == "1" || q.Get("no_theme") == "true",
	}
	for _, t := range q["type"] {
		tq.Types = append(tq.Types, models.TagType(t))
	}
	return tq
}

// handleListTags returns the tags matching the query filters
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	q := tagQuery(r)
	if q.Empty() {
		respondError(w, http.StatusBadRequest, "character_id, theme_id or fellowship_id is required")
		return
	}
	for _, t := range q.Types {
		if !t.Valid() {
			respondError(w, http.StatusBadRequest, models.ErrInvalidTagType.Error())
			return
		}
	}

	owners := make([]models.Owner, 0, len(q.ThemeIDs)+2)
	if q.CharacterID != "" {
		owners = append(owners, models.CharacterOwner(q.CharacterID))
	}
	if q.FellowshipID != "" {
		owners = append(owners, models.FellowshipOwner(q.FellowshipID))
	}
	for _, id := range q.ThemeIDs {
		owners = append(owners, models.ThemeOwner(id))
	}
	for _, o := range owners {
		if err := s.store.CanRead(r.Context(), userID(r), o); err != nil {
			s.respondStoreError(w, r, err, "fetch tags")
			return
		}
	}

	tags, err := s.store.ListTags(r.Context(), q)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch tags")
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	respondJSON(w, http.StatusOK, tags)
}

// handleCreateTag creates a tag
func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req models.TagCreate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Authorize(r.Context(), userID(r), req.Owner); err != nil {
		s.respondStoreError(w, r, err, "create tag")
		return
	}

	tag, err := s.store.CreateTag(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, r, err, "create tag")
		return
	}
	respondJSON(w, http.StatusCreated, tag)
}

// loadWritableTag returns the tag if the caller may change it.
func (s *Server) loadWritableTag(r *http.Request) (*models.Tag, error) {
	tag, err := s.store.GetTag(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := s.store.Authorize(r.Context(), userID(r), tag.Owner()); err != nil {
		return nil, err
	}
	return tag, nil
}

// handleGetTag returns a tag by ID
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.store.GetTag(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch tag")
		return
	}
	if err := s.store.CanRead(r.Context(), userID(r), tag.Owner()); err != nil {
		s.respondStoreError(w, r, err, "fetch tag")
		return
	}
	respondJSON(w, http.StatusOK, tag)
}

// handleUpdateTag patches a tag
func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.loadWritableTag(r)
	if err != nil {
		s.respondStoreError(w, r, err, "update tag")
		return
	}

	var req models.TagUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := s.store.UpdateTag(r.Context(), tag.ID, req)
	if err != nil {
		s.respondStoreError(w, r, err, "update tag")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleDeleteTag deletes a tag
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	tag, err := s.loadWritableTag(r)
	if err != nil {
		s.respondStoreError(w, r, err, "delete tag")
		return
	}
	if err := s.store.DeleteTag(r.Context(), tag.ID); err != nil {
		s.respondStoreError(w, r, err, "delete tag")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

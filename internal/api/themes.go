package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meur/mistbook/internal/models"
)

// ownerFromQuery reads exactly one of the owner query parameters.
func ownerFromQuery(r *http.Request, allowed ...models.OwnerKind) (models.Owner, bool) {
	var found []models.Owner
	for _, kind := range allowed {
		if id := r.URL.Query().Get(string(kind) + "_id"); id != "" {
			found = append(found, models.Owner{Kind: kind, ID: id})
		}
	}
	if len(found) != 1 {
		return models.Owner{}, false
	}
	return found[0], true
}

// handleListThemes returns the themes of a character or fellowship
func (s *Server) handleListThemes(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromQuery(r, models.OwnerCharacter, models.OwnerFellowship)
	if !ok {
		respondError(w, http.StatusBadRequest, "character_id or fellowship_id is required")
		return
	}
	if err := s.store.CanRead(r.Context(), userID(r), owner); err != nil {
		s.respondStoreError(w, r, err, "fetch themes")
		return
	}

	themes, err := s.store.ListThemes(r.Context(), owner)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch themes")
		return
	}
	if themes == nil {
		themes = []models.Theme{}
	}
	respondJSON(w, http.StatusOK, themes)
}

// handleCreateTheme creates a theme
func (s *Server) handleCreateTheme(w http.ResponseWriter, r *http.Request) {
	var req models.ThemeCreate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Authorize(r.Context(), userID(r), req.Owner); err != nil {
		s.respondStoreError(w, r, err, "create theme")
		return
	}

	theme, err := s.store.CreateTheme(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, r, err, "create theme")
		return
	}
	respondJSON(w, http.StatusCreated, theme)
}

// handleGetTheme returns a theme by ID
func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := s.store.GetTheme(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch theme")
		return
	}
	if err := s.store.CanRead(r.Context(), userID(r), theme.Owner()); err != nil {
		s.respondStoreError(w, r, err, "fetch theme")
		return
	}
	respondJSON(w, http.StatusOK, theme)
}

// handleUpdateTheme patches a theme
func (s *Server) handleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Authorize(r.Context(), userID(r), models.ThemeOwner(id)); err != nil {
		s.respondStoreError(w, r, err, "update theme")
		return
	}

	var req models.ThemeUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	theme, err := s.store.UpdateTheme(r.Context(), id, req)
	if err != nil {
		s.respondStoreError(w, r, err, "update theme")
		return
	}
	respondJSON(w, http.StatusOK, theme)
}

// handleDeleteTheme deletes a theme and its tags
func (s *Server) handleDeleteTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Authorize(r.Context(), userID(r), models.ThemeOwner(id)); err != nil {
		s.respondStoreError(w, r, err, "delete theme")
		return
	}

	if err := s.store.DeleteTheme(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err, "delete theme")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

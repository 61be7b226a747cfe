package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meur/mistbook/internal/models"
)

// handleListCharacters returns the caller's characters, newest first
func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCharacters(r.Context(), userID(r), queryLimit(r))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch characters")
		return
	}
	if list == nil {
		list = []models.Character{}
	}
	respondJSON(w, http.StatusOK, list)
}

// handleLatestCharacter returns the caller's most recent character, or null
func (s *Server) handleLatestCharacter(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCharacters(r.Context(), userID(r), 1)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch characters")
		return
	}
	if len(list) == 0 {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, list[0])
}

// handleCreateCharacter creates a character for the caller
func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req models.CharacterCreate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.store.CreateCharacter(r.Context(), userID(r), req)
	if err != nil {
		s.respondStoreError(w, r, err, "create character")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// handleGetCharacter returns one of the caller's characters
func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireCharacterOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "fetch character")
		return
	}

	c, err := s.store.GetCharacter(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch character")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// handleUpdateCharacter patches one of the caller's characters
func (s *Server) handleUpdateCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireCharacterOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "update character")
		return
	}

	var req models.CharacterUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.store.UpdateCharacter(r.Context(), id, req)
	if err != nil {
		s.respondStoreError(w, r, err, "update character")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// handleDeleteCharacter deletes one of the caller's characters
func (s *Server) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireCharacterOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "delete character")
		return
	}

	if err := s.store.DeleteCharacter(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err, "delete character")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGetQuintessences lists a character's quintessences
func (s *Server) handleGetQuintessences(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireCharacterOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "fetch quintessences")
		return
	}

	list, err := s.store.CharacterQuintessences(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch quintessences")
		return
	}
	if list == nil {
		list = []models.Quintessence{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleAddQuintessence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireCharacterOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "add quintessence")
		return
	}
	if err := s.store.AddQuintessence(r.Context(), id, chi.URLParam(r, "qid")); err != nil {
		s.respondStoreError(w, r, err, "add quintessence")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveQuintessence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireCharacterOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "remove quintessence")
		return
	}
	if err := s.store.RemoveQuintessence(r.Context(), id, chi.URLParam(r, "qid")); err != nil {
		s.respondStoreError(w, r, err, "remove quintessence")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

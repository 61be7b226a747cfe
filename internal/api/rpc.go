package api

import (
	"net/http"

	"github.com/meur/mistbook/internal/models"
)

// handleJoinFellowshipByCode enrolls one of the caller's characters in the
// fellowship of the adventure with the given join code.
func (s *Server) handleJoinFellowshipByCode(w http.ResponseWriter, r *http.Request) {
	var req models.JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !models.ValidJoinCode(req.JoinCode) {
		respondError(w, http.StatusBadRequest, models.ErrInvalidJoinCode.Error())
		return
	}
	if req.CharacterID == "" {
		respondError(w, http.StatusBadRequest, "character_id is required")
		return
	}

	joined, err := s.store.JoinFellowshipByCode(r.Context(), userID(r), req)
	if err != nil {
		s.respondStoreError(w, r, err, "join fellowship")
		return
	}
	respondJSON(w, http.StatusOK, joined)
}

type rosterRequest struct {
	AdventureID string `json:"adventure_id"`
}

// handleAdventureRoster lists an adventure's characters with their brief fields.
func (s *Server) handleAdventureRoster(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := decodeJSON(r, &req); err != nil || req.AdventureID == "" {
		respondError(w, http.StatusBadRequest, "adventure_id is required")
		return
	}

	roster, err := s.store.AdventureRoster(r.Context(), req.AdventureID)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch roster")
		return
	}
	respondJSON(w, http.StatusOK, roster)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/storage"
)

// handleListAdventures returns the adventures the caller owns or plays in
func (s *Server) handleListAdventures(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAdventures(r.Context(), storage.AdventureQuery{
		PlayerID:  userID(r),
		OwnedOnly: r.URL.Query().Get("owned") == "1",
		Limit:     queryLimit(r),
	})
	if err != nil {
		s.respondStoreError(w, r, err, "fetch adventures")
		return
	}
	if list == nil {
		list = []models.Adventure{}
	}
	respondJSON(w, http.StatusOK, list)
}

// handleCreateAdventure creates an adventure owned by the caller
func (s *Server) handleCreateAdventure(w http.ResponseWriter, r *http.Request) {
	var req models.AdventureCreate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Rosters show the owner's display name, so the profile must exist first.
	user := identity(r).User
	if _, err := s.store.EnsureProfile(r.Context(), user.ID, user.DefaultDisplayName()); err != nil {
		s.respondStoreError(w, r, err, "create adventure")
		return
	}

	adventure, err := s.store.CreateAdventure(r.Context(), user.ID, req)
	if err != nil {
		s.respondStoreError(w, r, err, "create adventure")
		return
	}
	respondJSON(w, http.StatusCreated, adventure)
}

// handleGetAdventure returns an adventure by ID
func (s *Server) handleGetAdventure(w http.ResponseWriter, r *http.Request) {
	adventure, err := s.store.GetAdventure(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch adventure")
		return
	}
	respondJSON(w, http.StatusOK, adventure)
}

// handleUpdateAdventure renames an adventure
func (s *Server) handleUpdateAdventure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireAdventureOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "update adventure")
		return
	}

	var req models.AdventureUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	adventure, err := s.store.UpdateAdventure(r.Context(), id, req)
	if err != nil {
		s.respondStoreError(w, r, err, "update adventure")
		return
	}
	respondJSON(w, http.StatusOK, adventure)
}

// handleDeleteAdventure deletes an adventure by ID
func (s *Server) handleDeleteAdventure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.RequireAdventureOwner(r.Context(), id, userID(r)); err != nil {
		s.respondStoreError(w, r, err, "delete adventure")
		return
	}

	if err := s.store.DeleteAdventure(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err, "delete adventure")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGetAdventureFellowship returns the fellowship of an adventure
func (s *Server) handleGetAdventureFellowship(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.FellowshipByAdventure(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch fellowship")
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// handleQuitAdventure releases the caller's characters from an adventure
func (s *Server) handleQuitAdventure(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.QuitAdventure(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		s.respondStoreError(w, r, err, "leave adventure")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"released": n})
}

// handleGetFellowship returns a fellowship by ID
func (s *Server) handleGetFellowship(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFellowship(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch fellowship")
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// handleCanEditFellowship reports whether the caller may edit the fellowship
func (s *Server) handleCanEditFellowship(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.CanEditFellowship(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		s.respondStoreError(w, r, err, "check fellowship")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"can_edit": ok})
}

// handleGetFellowshipTheme returns the fellowship's theme, or null
func (s *Server) handleGetFellowshipTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := s.store.FellowshipTheme(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if isNotFound(err) {
			respondJSON(w, http.StatusOK, nil)
			return
		}
		s.respondStoreError(w, r, err, "fetch fellowship theme")
		return
	}
	respondJSON(w, http.StatusOK, theme)
}

// handleEnsureFellowshipTheme returns the fellowship's theme, creating it if needed
func (s *Server) handleEnsureFellowshipTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Authorize(r.Context(), userID(r), models.FellowshipOwner(id)); err != nil {
		s.respondStoreError(w, r, err, "create fellowship theme")
		return
	}

	theme, err := s.store.EnsureFellowshipTheme(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err, "create fellowship theme")
		return
	}
	respondJSON(w, http.StatusOK, theme)
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meur/mistbook/internal/models"
)

var statusOwners = []models.OwnerKind{models.OwnerCharacter, models.OwnerFellowship, models.OwnerAdventure}

func (s *Server) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromQuery(r, statusOwners...)
	if !ok {
		respondError(w, http.StatusBadRequest, "one of character_id, fellowship_id or adventure_id is required")
		return
	}
	if err := s.store.CanRead(r.Context(), userID(r), owner); err != nil {
		s.respondStoreError(w, r, err, "fetch statuses")
		return
	}

	list, err := s.store.ListStatuses(r.Context(), owner)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch statuses")
		return
	}
	if list == nil {
		list = []models.Status{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusCreate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Authorize(r.Context(), userID(r), req.Owner); err != nil {
		s.respondStoreError(w, r, err, "create status")
		return
	}

	st, err := s.store.CreateStatus(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, r, err, "create status")
		return
	}
	respondJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch status")
		return
	}
	if err := s.store.CanRead(r.Context(), userID(r), st.Owner()); err != nil {
		s.respondStoreError(w, r, err, "fetch status")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) loadWritableStatus(r *http.Request) (*models.Status, error) {
	st, err := s.store.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if err := s.store.Authorize(r.Context(), userID(r), st.Owner()); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadWritableStatus(r)
	if err != nil {
		s.respondStoreError(w, r, err, "update status")
		return
	}

	var req models.StatusUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := s.store.UpdateStatus(r.Context(), st.ID, req)
	if err != nil {
		s.respondStoreError(w, r, err, "update status")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadWritableStatus(r)
	if err != nil {
		s.respondStoreError(w, r, err, "delete status")
		return
	}
	if err := s.store.DeleteStatus(r.Context(), st.ID); err != nil {
		s.respondStoreError(w, r, err, "delete status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

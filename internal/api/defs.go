package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/storage"
)

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// handleListDefs returns every row of a reference table
func (s *Server) handleListDefs(w http.ResponseWriter, r *http.Request) {
	kind := models.DefKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		respondError(w, http.StatusNotFound, "Definition table not found")
		return
	}

	defs, err := s.store.ListDefs(r.Context(), kind)
	if err != nil {
		s.respondStoreError(w, r, err, "fetch definitions")
		return
	}
	respondJSON(w, http.StatusOK, defs)
}

// handleGetDefByName looks up a single definition by exact name
func (s *Server) handleGetDefByName(w http.ResponseWriter, r *http.Request) {
	kind := models.DefKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		respondError(w, http.StatusNotFound, "Definition table not found")
		return
	}

	def, err := s.store.DefByName(r.Context(), kind, chi.URLParam(r, "name"))
	if err != nil {
		s.respondStoreError(w, r, err, "fetch definition")
		return
	}
	respondJSON(w, http.StatusOK, def)
}

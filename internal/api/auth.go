package api

import (
	"net/http"
	"time"

	"github.com/meur/mistbook/internal/auth"
	"github.com/meur/mistbook/internal/models"
)

// requireUser rejects requests without a live session and stores the identity
// on the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, models.ErrNotAuthenticated.Error())
			return
		}
		id, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.respondStoreError(w, r, err, "authenticate")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// identity returns the caller set by requireUser.
func identity(r *http.Request) *auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func userID(r *http.Request) string {
	return identity(r).User.ID
}

// handleSignUp creates an account and signs it in
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.auth.SignUp(r.Context(), creds)
	if err != nil {
		s.respondStoreError(w, r, err, "sign up")
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// handleLogin opens a session for an email and password
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.auth.Login(r.Context(), creds)
	if err != nil {
		s.respondStoreError(w, r, err, "log in")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleLogout ends the caller's session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), identity(r).SessionID); err != nil {
		s.respondStoreError(w, r, err, "log out")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// handleGetUser returns the signed-in user
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, identity(r).User)
}

type sessionResponse struct {
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// handleGetSession describes the caller's session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	respondJSON(w, http.StatusOK, sessionResponse{User: id.User, ExpiresAt: id.ExpiresAt})
}

// handleGetProfile returns the caller's profile, creating it on first use
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user := identity(r).User
	profile, err := s.store.EnsureProfile(r.Context(), user.ID, user.DefaultDisplayName())
	if err != nil {
		s.respondStoreError(w, r, err, "fetch profile")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile patches the caller's profile
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user := identity(r).User
	if _, err := s.store.EnsureProfile(r.Context(), user.ID, user.DefaultDisplayName()); err != nil {
		s.respondStoreError(w, r, err, "update profile")
		return
	}
	profile, err := s.store.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		s.respondStoreError(w, r, err, "update profile")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

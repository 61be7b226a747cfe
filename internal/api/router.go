package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/meur/mistbook/internal/auth"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/storage"
)

// Options tunes the server.
type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server holds the HTTP server dependencies
type Server struct {
	store    *storage.Store
	auth     *auth.Service
	changes  *realtime.Broker
	log      *slog.Logger
	origins  []string
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a new API server
func New(store *storage.Store, authSvc *auth.Service, changes *realtime.Broker, opts Options) *Server {
	s := &Server{
		store:   store,
		auth:    authSvc,
		changes: changes,
		log:     opts.Logger,
		origins: opts.AllowedOrigins,
		router:  chi.NewRouter(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Router exposes the chi router so callers can mount extra handlers.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// Auth
		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			// Change feed; compression would wrap the hijacked connection.
			r.Get("/realtime", s.handleRealtime)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Compress(5))

				r.Post("/auth/logout", s.handleLogout)
				r.Get("/auth/user", s.handleGetUser)
				r.Get("/auth/session", s.handleGetSession)

				// Profile
				r.Get("/profile", s.handleGetProfile)
				r.Patch("/profile", s.handleUpdateProfile)

				// Characters
				r.Get("/characters", s.handleListCharacters)
				r.Get("/characters/latest", s.handleLatestCharacter)
				r.Post("/characters", s.handleCreateCharacter)
				r.Get("/characters/{id}", s.handleGetCharacter)
				r.Patch("/characters/{id}", s.handleUpdateCharacter)
				r.Delete("/characters/{id}", s.handleDeleteCharacter)
				r.Get("/characters/{id}/quintessences", s.handleGetQuintessences)
				r.Put("/characters/{id}/quintessences/{qid}", s.handleAddQuintessence)
				r.Delete("/characters/{id}/quintessences/{qid}", s.handleRemoveQuintessence)

				// Themes
				r.Get("/themes", s.handleListThemes)
				r.Post("/themes", s.handleCreateTheme)
				r.Get("/themes/{id}", s.handleGetTheme)
				r.Patch("/themes/{id}", s.handleUpdateTheme)
				r.Delete("/themes/{id}", s.handleDeleteTheme)

				// Tags
				r.Get("/tags", s.handleListTags)
				r.Post("/tags", s.handleCreateTag)
				r.Get("/tags/{id}", s.handleGetTag)
				r.Patch("/tags/{id}", s.handleUpdateTag)
				r.Delete("/tags/{id}", s.handleDeleteTag)

				// Statuses
				r.Get("/statuses", s.handleListStatuses)
				r.Post("/statuses", s.handleCreateStatus)
				r.Get("/statuses/{id}", s.handleGetStatus)
				r.Patch("/statuses/{id}", s.handleUpdateStatus)
				r.Delete("/statuses/{id}", s.handleDeleteStatus)

				// Adventures
				r.Get("/adventures", s.handleListAdventures)
				r.Post("/adventures", s.handleCreateAdventure)
				r.Get("/adventures/{id}", s.handleGetAdventure)
				r.Patch("/adventures/{id}", s.handleUpdateAdventure)
				r.Delete("/adventures/{id}", s.handleDeleteAdventure)
				r.Get("/adventures/{id}/fellowship", s.handleGetAdventureFellowship)
				r.Post("/adventures/{id}/quit", s.handleQuitAdventure)

				// Fellowships
				r.Get("/fellowships/{id}", s.handleGetFellowship)
				r.Get("/fellowships/{id}/can-edit", s.handleCanEditFellowship)
				r.Get("/fellowships/{id}/theme", s.handleGetFellowshipTheme)
				r.Post("/fellowships/{id}/theme", s.handleEnsureFellowshipTheme)

				// Definitions
				r.Get("/defs/{kind}", s.handleListDefs)
				r.Get("/defs/{kind}/by-name/{name}", s.handleGetDefByName)

				// Procedures
				r.Post("/rpc/join_fellowship_by_code", s.handleJoinFellowshipByCode)
				r.Post("/rpc/adventure_roster_with_brief", s.handleAdventureRoster)
			})
		})
	})

	// Health check
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// respondStoreError maps store and auth errors onto status codes. Anything it
// does not recognise is logged and reported as "Failed to <action>".
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var status int
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrLimitReached):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrInvalid),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	default:
		s.log.Error("request failed",
			slog.String("action", action),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "Failed to "+action)
		return
	}
	respondError(w, status, err.Error())
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

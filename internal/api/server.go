package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/zkconnect/zkconnect-bridge/internal/auth"
	"github.com/zkconnect/zkconnect-bridge/internal/config"
	"github.com/zkconnect/zkconnect-bridge/internal/monitor"
	"github.com/zkconnect/zkconnect-bridge/internal/storage"
)

// Server exposes the bridge's run state over a small REST API so operators
// can check the pipeline without reading log files. The store may be nil
// when the punch archive is disabled.
type Server struct {
	config *config.APIConfig
	stats  *monitor.Stats
	store  storage.Store
	auth   *auth.JWTManager
	router chi.Router
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates the status API server
func NewServer(cfg *config.APIConfig, stats *monitor.Stats, store storage.Store, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		stats:  stats,
		store:  store,
		auth:   auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		router: chi.NewRouter(),
		log:    logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.config.Addr).Msg("starting status API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		if _, err := s.auth.ValidateToken(parts[1]); err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/zkconnect/zkconnect-bridge/internal/auth"
	"github.com/zkconnect/zkconnect-bridge/internal/models"
	"github.com/zkconnect/zkconnect-bridge/internal/storage"
)

// HandleHealth handles the health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// HandleLogin authenticates an operator against the configured credentials
// and hands out a bearer token.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != s.config.Username || !auth.VerifyPassword(req.Password, s.config.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.GenerateToken(req.Username)
	if err != nil {
		s.log.Error().Err(err).Msg("generate token failed")
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.respondJSON(w, http.StatusOK, loginResponse{Token: token})
}

// HandleStatus returns the monitor loop's current state and counters.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.stats.Snapshot())
}

// HandleListPunches lists archived punches with optional filters
func (s *Server) HandleListPunches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "punch archive is not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.respondError(w, http.StatusBadRequest, "limit must be within 1-500")
			return
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "offset must be non-negative")
			return
		}
		offset = n
	}

	var filters storage.PunchFilters
	if v := r.URL.Query().Get("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := r.URL.Query().Get("outcome"); v != "" {
		outcome := models.OutcomeKind(v)
		filters.Outcome = &outcome
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "start_time must be RFC3339")
			return
		}
		filters.StartTime = &ts
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "end_time must be RFC3339")
			return
		}
		filters.EndTime = &ts
	}

	punches, total, err := s.store.ListPunches(r.Context(), filters, limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("list punches failed")
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"punches": punches,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// HandleLatestPunch returns the most recently archived punch
func (s *Server) HandleLatestPunch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "punch archive is not enabled")
		return
	}

	rec, err := s.store.LatestPunch(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no punches archived yet")
			return
		}
		s.log.Error().Err(err).Msg("latest punch failed")
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.respondJSON(w, http.StatusOK, rec)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkconnect/zkconnect-bridge/internal/auth"
	"github.com/zkconnect/zkconnect-bridge/internal/config"
	"github.com/zkconnect/zkconnect-bridge/internal/models"
	"github.com/zkconnect/zkconnect-bridge/internal/monitor"
	"github.com/zkconnect/zkconnect-bridge/internal/storage"
)

type fakeStore struct {
	punches []*models.PunchRecord
	listErr error
}

func (f *fakeStore) CreatePunch(_ context.Context, rec *models.PunchRecord) error {
	f.punches = append(f.punches, rec)
	return nil
}

func (f *fakeStore) ListPunches(_ context.Context, _ storage.PunchFilters, _, _ int) ([]*models.PunchRecord, int64, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.punches, int64(len(f.punches)), nil
}

func (f *fakeStore) LatestPunch(_ context.Context) (*models.PunchRecord, error) {
	if len(f.punches) == 0 {
		return nil, storage.ErrNotFound
	}
	return f.punches[len(f.punches)-1], nil
}

func (f *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T, store storage.Store) *Server {
	t.Helper()

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	cfg := &config.APIConfig{
		Addr:         ":0",
		JWTSecret:    "test-secret",
		Username:     "ops",
		PasswordHash: hash,
	}

	return NewServer(cfg, monitor.NewStats(), store, zerolog.Nop())
}

func login(t *testing.T, s *Server) string {
	t.Helper()

	body, err := json.Marshal(loginRequest{Username: "ops", Password: "hunter2"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	return resp.Token
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleLoginWrongPassword(t *testing.T) {
	s := newTestServer(t, nil)

	body, err := json.Marshal(loginRequest{Username: "ops", Password: "hunter3"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStatusRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, nil)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitor.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, monitor.StateIdle, snap.State)
}

func TestHandleListPunches(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, store.CreatePunch(context.Background(), &models.PunchRecord{
		UserID:    "1042",
		Punch:     models.PunchCheckIn,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		MachineID: 7,
		Outcome:   models.OutcomeDelivered,
	}))

	s := newTestServer(t, store)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/punches?user_id=1042", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
	assert.Contains(t, rec.Body.String(), `"1042"`)
}

func TestHandleListPunchesBadLimit(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/punches?limit=9999", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListPunchesNoArchive(t *testing.T) {
	s := newTestServer(t, nil)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/punches", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLatestPunchEmpty(t *testing.T) {
	s := newTestServer(t, &fakeStore{})
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/punches/latest", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantgate/internal/auth"
	"github.com/wolfeidau/tenantgate/internal/cache"
	"github.com/wolfeidau/tenantgate/internal/hotkey"
	httpmiddleware "github.com/wolfeidau/tenantgate/internal/http"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store/memory"
	"github.com/wolfeidau/tenantgate/internal/tenant"
	"github.com/wolfeidau/tenantgate/internal/warmer"
)

func newTestMux(t *testing.T) (*http.ServeMux, *cache.SessionCache, *memory.SessionStore) {
	t.Helper()

	sessions := memory.NewSessionStore()
	cacheStore := memory.NewCacheStore()
	detector := hotkey.NewDetector(hotkey.Config{})
	sessionCache := cache.NewSessionCache(sessions, cacheStore, detector, cache.Config{})
	cacheWarmer := warmer.NewCacheWarmer(sessions, sessionCache, warmer.Config{})
	propagator := tenant.NewPropagator(nil)

	mux := http.NewServeMux()
	NewOpsHandler(sessionCache, detector, cacheWarmer, propagator).Register(mux)

	return mux, sessionCache, sessions
}

func TestOpsCacheMetrics(t *testing.T) {
	mux, sessionCache, sessions := newTestMux(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, sessions.Create(ctx, &models.Session{
		ID:             uuid.Must(uuid.NewV7()),
		UserID:         uuid.Must(uuid.NewV7()),
		TokenHash:      auth.HashToken("token-1"),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now,
		Email:          "user@example.com",
	}))

	_, err := sessionCache.Validate(ctx, "token-1")
	require.NoError(t, err)
	_, err = sessionCache.Validate(ctx, "token-1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Metrics cache.CounterSnapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp.Metrics.Hits)
	require.Equal(t, int64(1), resp.Metrics.Misses)
	require.InDelta(t, 0.5, resp.Metrics.HitRate, 0.001)
}

func TestOpsHotkeys(t *testing.T) {
	mux, sessionCache, sessions := newTestMux(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, sessions.Create(ctx, &models.Session{
		ID:             uuid.Must(uuid.NewV7()),
		UserID:         uuid.Must(uuid.NewV7()),
		TokenHash:      auth.HashToken("token-1"),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now,
		Email:          "user@example.com",
	}))

	for i := 0; i < 5; i++ {
		_, err := sessionCache.Validate(ctx, "token-1")
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/hotkeys?limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Hotkeys []hotkey.Metric `json:"hotkeys"`
		Stats   hotkey.Stats    `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hotkeys, 1)
	require.Equal(t, int64(5), resp.Hotkeys[0].AccessCount)
	require.Equal(t, int64(5), resp.Stats.TotalAccesses)
}

func TestOpsHotkeysBadLimit(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/hotkeys?limit=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpsWarming(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/warming", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Progress warmer.Result `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Progress.Status, "no run has started yet")
}

func TestOpsHealth(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMeHandler(t *testing.T) {
	mux, sessionCache, sessions := newTestMux(t)
	mux.Handle("GET /me", httpmiddleware.SessionAuthMiddleware(sessionCache)(MeHandler()))
	ctx := context.Background()

	userID := uuid.Must(uuid.NewV7())
	orgID := uuid.Must(uuid.NewV7())

	now := time.Now()
	require.NoError(t, sessions.Create(ctx, &models.Session{
		ID:             uuid.Must(uuid.NewV7()),
		UserID:         userID,
		TokenHash:      auth.HashToken("token-1"),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now,
		Email:          "user@example.com",
		ActiveOrgID:    orgID,
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer token-1")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID string `json:"user_id"`
		OrgID  string `json:"org_id"`
		Email  string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, userID.String(), resp.UserID)
	require.Equal(t, orgID.String(), resp.OrgID)
	require.Equal(t, "user@example.com", resp.Email)
}

func TestMeHandlerUnauthenticated(t *testing.T) {
	mux, sessionCache, _ := newTestMux(t)
	mux.Handle("GET /me", httpmiddleware.SessionAuthMiddleware(sessionCache)(MeHandler()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
)

type fakeValidator struct {
	sessions map[string]*models.Session
}

func (v *fakeValidator) Validate(ctx context.Context, token string) (*models.Session, error) {
	session, ok := v.sessions[token]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return session, nil
}

func TestSessionAuthMiddleware(t *testing.T) {
	userID := uuid.Must(uuid.NewV7())
	orgID := uuid.Must(uuid.NewV7())

	validator := &fakeValidator{sessions: map[string]*models.Session{
		"good-token": {
			ID:          uuid.Must(uuid.NewV7()),
			UserID:      userID,
			ActiveOrgID: orgID,
			Email:       "user@example.com",
		},
	}}

	var gotPrincipal *Principal
	handler := SessionAuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token", func(t *testing.T) {
		gotPrincipal = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotPrincipal)
		require.Equal(t, userID, gotPrincipal.UserID)
		require.Equal(t, orgID, gotPrincipal.ActiveOrgID)
		require.Equal(t, "user@example.com", gotPrincipal.Email)
	})

	t.Run("unknown token", func(t *testing.T) {
		gotPrincipal = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Nil(t, gotPrincipal)
	})

	t.Run("missing header", func(t *testing.T) {
		gotPrincipal = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Nil(t, gotPrincipal)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		gotPrincipal = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic good-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Nil(t, gotPrincipal)
	})
}

func TestSessionAuthMiddlewareClientIP(t *testing.T) {
	validator := &fakeValidator{sessions: map[string]*models.Session{
		"good-token": {
			ID:     uuid.Must(uuid.NewV7()),
			UserID: uuid.Must(uuid.NewV7()),
			Email:  "user@example.com",
		},
	}}

	var gotPrincipal *Principal
	inner := SessionAuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("resolved by the outer middleware", func(t *testing.T) {
		gotPrincipal = nil
		handler := ClientIPMiddleware()(inner)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotPrincipal)
		require.Equal(t, "10.0.0.1", gotPrincipal.ClientIP)
	})

	t.Run("resolved from the request without it", func(t *testing.T) {
		gotPrincipal = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		req.RemoteAddr = "10.0.0.4:1234"
		rec := httptest.NewRecorder()

		inner.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotPrincipal)
		require.Equal(t, "10.0.0.4", gotPrincipal.ClientIP)
	})
}

func TestExtractClientIP(t *testing.T) {
	t.Run("x-forwarded-for", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		require.Equal(t, "10.0.0.1", ExtractClientIP(req))
	})

	t.Run("x-real-ip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", "10.0.0.3")
		require.Equal(t, "10.0.0.3", ExtractClientIP(req))
	})

	t.Run("remote addr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.4:1234"
		require.Equal(t, "10.0.0.4", ExtractClientIP(req))
	})
}

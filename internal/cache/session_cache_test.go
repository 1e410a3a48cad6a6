package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantgate/internal/auth"
	"github.com/wolfeidau/tenantgate/internal/hotkey"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
	"github.com/wolfeidau/tenantgate/internal/store/memory"
)

func newTestCache(t *testing.T) (*SessionCache, *memory.SessionStore, *memory.CacheStore, *hotkey.Detector) {
	t.Helper()

	sessions := memory.NewSessionStore()
	cacheStore := memory.NewCacheStore()
	detector := hotkey.NewDetector(hotkey.Config{})

	sc := NewSessionCache(sessions, cacheStore, detector, Config{
		MaxTTL: 5 * time.Minute,
	})

	return sc, sessions, cacheStore, detector
}

func newTestSession(t *testing.T, token string, expiresIn time.Duration) *models.Session {
	t.Helper()

	now := time.Now()
	return &models.Session{
		ID:             uuid.Must(uuid.NewV7()),
		UserID:         uuid.Must(uuid.NewV7()),
		TokenHash:      auth.HashToken(token),
		CreatedAt:      now,
		ExpiresAt:      now.Add(expiresIn),
		LastActivityAt: now,
		Email:          "user@example.com",
		ActiveOrgID:    uuid.Must(uuid.NewV7()),
	}
}

func TestValidateMissThenHit(t *testing.T) {
	sc, sessions, _, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	require.NoError(t, sessions.Create(ctx, newTestSession(t, token, time.Hour)))

	// Cold cache: one database read
	session, err := sc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", session.Email)
	require.Equal(t, 1, sessions.GetCalls())

	// Warm cache: zero further database reads
	for i := 0; i < 5; i++ {
		_, err := sc.Validate(ctx, token)
		require.NoError(t, err)
	}
	require.Equal(t, 1, sessions.GetCalls())

	metrics := sc.Metrics()
	require.Equal(t, int64(5), metrics.Hits)
	require.Equal(t, int64(1), metrics.Misses)
	require.InDelta(t, 5.0/6.0, metrics.HitRate, 0.001)
}

func TestValidateEmptyToken(t *testing.T) {
	sc, sessions, _, _ := newTestCache(t)

	_, err := sc.Validate(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingToken)
	require.Equal(t, 0, sessions.GetCalls(), "precondition failures must not touch the store")
}

func TestValidateUnknownToken(t *testing.T) {
	sc, _, _, _ := newTestCache(t)

	_, err := sc.Validate(context.Background(), "no-such-token")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestValidateExpiredRowWithLiveCacheEntry(t *testing.T) {
	sc, sessions, cacheStore, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	session := newTestSession(t, token, time.Hour)
	require.NoError(t, sessions.Create(ctx, session))

	// Plant a cache entry whose session expiry is already past, under a TTL
	// that is still live. The read-time expiry check must reject it.
	stale := *session
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, cacheStore.SetWithTTL(ctx, session.TokenHash, &stale, time.Hour))

	// The database row is also expired
	require.NoError(t, sessions.DeleteByTokenHash(ctx, session.TokenHash))
	expired := *session
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, sessions.Create(ctx, &expired))

	_, err := sc.Validate(ctx, token)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestValidateEvictsStaleEntryAndRefreshes(t *testing.T) {
	sc, sessions, cacheStore, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	session := newTestSession(t, token, time.Hour)
	require.NoError(t, sessions.Create(ctx, session))

	// Stale cache entry for a session that is still valid in the database
	stale := *session
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, cacheStore.SetWithTTL(ctx, session.TokenHash, &stale, time.Hour))

	got, err := sc.Validate(ctx, token)
	require.NoError(t, err)
	require.False(t, got.IsExpired())
	require.Equal(t, 1, sessions.GetCalls(), "stale entry must be confirmed against the database")
}

func TestValidateCacheUnavailableFallsThrough(t *testing.T) {
	sc, sessions, cacheStore, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	require.NoError(t, sessions.Create(ctx, newTestSession(t, token, time.Hour)))

	cacheStore.SetUnavailable(true)

	for i := 0; i < 3; i++ {
		session, err := sc.Validate(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, session)
	}
	require.Equal(t, 3, sessions.GetCalls(), "every validation should reach the database while the cache is down")
}

func TestValidateDatabaseUnavailableFailsClosed(t *testing.T) {
	sc, sessions, _, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	require.NoError(t, sessions.Create(ctx, newTestSession(t, token, time.Hour)))

	sessions.FailGets(true)

	_, err := sc.Validate(ctx, token)
	require.ErrorIs(t, err, store.ErrSessionNotFound, "unverifiable sessions are treated as unauthenticated")
}

func TestWarmSessionThenValidate(t *testing.T) {
	sc, sessions, _, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	session := newTestSession(t, token, time.Hour)

	require.NoError(t, sc.WarmSession(ctx, session.TokenHash, session))

	got, err := sc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, session.ID, got.ID)
	require.Equal(t, 0, sessions.GetCalls(), "warmed sessions must not cost a database read")
}

func TestWarmSessionRejectsExpired(t *testing.T) {
	sc, _, cacheStore, _ := newTestCache(t)

	session := newTestSession(t, "token-1", -time.Minute)
	err := sc.WarmSession(context.Background(), session.TokenHash, session)
	require.Error(t, err)
	require.Equal(t, 0, cacheStore.Len())
}

func TestValidateTTLCappedByRemainingLifetime(t *testing.T) {
	sessions := memory.NewSessionStore()
	cacheStore := memory.NewCacheStore()
	detector := hotkey.NewDetector(hotkey.Config{})
	sc := NewSessionCache(sessions, cacheStore, detector, Config{
		MaxTTL: time.Hour,
	})
	ctx := context.Background()

	// Session expires in 50ms, well under MaxTTL, so the cache entry must too
	token := "token-1"
	require.NoError(t, sessions.Create(ctx, newTestSession(t, token, 50*time.Millisecond)))

	_, err := sc.Validate(ctx, token)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = sc.Validate(ctx, token)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestValidateTracksHotkeys(t *testing.T) {
	sc, sessions, _, detector := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	require.NoError(t, sessions.Create(ctx, newTestSession(t, token, time.Hour)))

	for i := 0; i < 10; i++ {
		_, err := sc.Validate(ctx, token)
		require.NoError(t, err)
	}

	// Misses are tracked too
	_, err := sc.Validate(ctx, "unknown-token")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	stats := detector.GetStats()
	require.Equal(t, 2, stats.TotalKeys)
	require.Equal(t, int64(11), stats.TotalAccesses)

	metrics, _ := detector.Hotkeys(1, time.Now())
	require.Len(t, metrics, 1)
	require.Equal(t, auth.HashToken(token), metrics[0].Key)
}

func TestTouchActivityIsAsync(t *testing.T) {
	sc, sessions, _, _ := newTestCache(t)
	ctx := context.Background()

	token := "token-1"
	session := newTestSession(t, token, time.Hour)
	session.LastActivityAt = time.Now().Add(-time.Hour)
	require.NoError(t, sessions.Create(ctx, session))

	_, err := sc.Validate(ctx, token)
	require.NoError(t, err)

	// The touch is fire-and-forget; give it a moment to land
	require.Eventually(t, func() bool {
		got, err := sessions.GetByTokenHash(ctx, session.TokenHash)
		if err != nil {
			return false
		}
		return time.Since(got.LastActivityAt) < time.Minute
	}, time.Second, 10*time.Millisecond)
}

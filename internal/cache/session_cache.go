package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/auth"
	"github.com/wolfeidau/tenantgate/internal/hotkey"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
	"github.com/wolfeidau/tenantgate/internal/telemetry"
)

// ErrMissingToken is returned when Validate is called with an empty token.
// This is a caller error, not an authentication failure.
var ErrMissingToken = errors.New("missing token")

// Config holds configuration for the session cache.
type Config struct {
	// MaxTTL caps how long a session may live in the cache. The effective
	// TTL is min(MaxTTL, remaining session lifetime). Default: 5m
	MaxTTL time.Duration

	// TouchTimeout bounds the fire-and-forget activity touch and the
	// opportunistic expired-row delete. Default: 5s
	TouchTimeout time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.MaxTTL == 0 {
		c.MaxTTL = 5 * time.Minute
	}
	if c.TouchTimeout == 0 {
		c.TouchTimeout = 5 * time.Second
	}
}

// SessionCache answers "is this token valid, and for whom" with cache-aside
// reads over the authoritative session store. The cache is a derived,
// time-bounded view: expiry is re-checked on every read regardless of cache
// TTL, and database unavailability fails closed.
type SessionCache struct {
	sessions store.SessionStore
	cache    store.CacheStore
	detector *hotkey.Detector
	cfg      Config

	counters *Counters
	tel      *telemetry.Metrics
}

// NewSessionCache creates a session cache. The hotkey detector is observed on
// every access; it may be shared with other caches but must not be nil.
func NewSessionCache(sessions store.SessionStore, cache store.CacheStore, detector *hotkey.Detector, cfg Config) *SessionCache {
	cfg.ApplyDefaults()

	return &SessionCache{
		sessions: sessions,
		cache:    cache,
		detector: detector,
		cfg:      cfg,
		counters: &Counters{},
		tel:      telemetry.GetMetrics(),
	}
}

// Validate resolves a bearer token to its session. Absent sessions (unknown
// token, expired, or an unverifiable database) are reported as
// store.ErrSessionNotFound; the caller formats the 401.
func (c *SessionCache) Validate(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	started := time.Now()
	key := auth.HashToken(token)

	// Every access is reported, hit or miss. The detector is a side channel
	// and never blocks or fails the lookup.
	c.detector.Track(key, started)

	defer func() {
		c.tel.ValidateDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}()

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		if !cached.IsExpired() {
			c.counters.RecordHit()
			c.tel.CacheHitsTotal.Add(ctx, 1)
			return cached, nil
		}
		// Stale entry outlived the token. Evict and fall through to the
		// database, which will confirm expiry.
		if delErr := c.cache.Delete(ctx, key); delErr != nil {
			log.Warn().Err(delErr).Msg("Failed to evict stale cache entry")
		}

	case errors.Is(err, store.ErrCacheMiss):
		// fall through to the database

	default:
		// Cache store down: degrade to the database rather than fail.
		log.Warn().Err(err).Msg("Cache store unavailable, falling through to database")
		c.tel.CacheFallbackTotal.Add(ctx, 1)
	}

	c.counters.RecordMiss()
	c.tel.CacheMissesTotal.Add(ctx, 1)

	session, err := c.sessions.GetByTokenHash(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			return nil, store.ErrSessionNotFound

		case errors.Is(err, store.ErrSessionExpired):
			c.deleteExpiredRow(key)
			return nil, store.ErrSessionNotFound

		default:
			// Never authenticate on unverifiable data.
			log.Error().Err(err).Msg("Session lookup failed, failing closed")
			return nil, store.ErrSessionNotFound
		}
	}

	c.writeThrough(ctx, key, session)
	c.touchActivity(session)

	return session, nil
}

// WarmSession writes a session directly into the cache, bypassing the
// database round trip. Used by the cache warmer; does not touch activity.
func (c *SessionCache) WarmSession(ctx context.Context, tokenHash string, session *models.Session) error {
	ttl := c.entryTTL(session)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}

	if err := c.cache.SetWithTTL(ctx, tokenHash, session, ttl); err != nil {
		return fmt.Errorf("failed to warm session: %w", err)
	}

	return nil
}

// Metrics returns the hit/miss counters, read cheaply on every poll.
func (c *SessionCache) Metrics() CounterSnapshot {
	return c.counters.Snapshot()
}

// PoolStats returns a snapshot of the cache store's client pool.
func (c *SessionCache) PoolStats(ctx context.Context) (*store.PoolStats, error) {
	return c.cache.PoolStats(ctx)
}

// entryTTL caps the cache TTL at the session's remaining lifetime.
func (c *SessionCache) entryTTL(session *models.Session) time.Duration {
	remaining := session.RemainingLifetime(time.Now())
	if remaining < c.cfg.MaxTTL {
		return remaining
	}
	return c.cfg.MaxTTL
}

// writeThrough populates the cache after a database read. Failure only costs
// the next lookup a cache miss.
func (c *SessionCache) writeThrough(ctx context.Context, key string, session *models.Session) {
	ttl := c.entryTTL(session)
	if ttl <= 0 {
		return
	}

	if err := c.cache.SetWithTTL(ctx, key, session, ttl); err != nil {
		log.Warn().Err(err).Msg("Failed to write session through to cache")
	}
}

// touchActivity updates last_activity_at in the background. The triggering
// validate call never waits on it.
func (c *SessionCache) touchActivity(session *models.Session) {
	sessionID := session.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TouchTimeout)
		defer cancel()

		if err := c.sessions.TouchLastActivity(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to touch session activity")
			c.tel.ActivityTouchErrors.Add(ctx, 1)
		}
	}()
}

// deleteExpiredRow opportunistically removes a confirmed-expired session row
// in the background. Best effort; the cleanup sweep catches anything missed.
func (c *SessionCache) deleteExpiredRow(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TouchTimeout)
		defer cancel()

		if err := c.sessions.DeleteByTokenHash(ctx, key); err != nil {
			log.Debug().Err(err).Msg("Failed to delete expired session row")
		}
	}()
}

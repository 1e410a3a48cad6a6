package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/tenantgate/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrCacheMiss        = errors.New("cache miss")
	ErrCacheUnavailable = errors.New("cache store unavailable")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// SessionStore defines the interface for the authoritative session storage.
// Sessions are created and revoked by the credential-issuance endpoints;
// this subsystem reads, touches activity, and sweeps confirmed-expired rows.
type SessionStore interface {
	// GetByTokenHash retrieves a session by its hashed bearer token, joined
	// with the owning account's fields and active organization. Returns
	// ErrSessionNotFound for unknown hashes and ErrSessionExpired for rows
	// whose expiry has passed.
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)

	// Create inserts a new session row (sign-in).
	Create(ctx context.Context, session *models.Session) error

	// Delete removes a session by ID (sign-out, explicit revoke).
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteByTokenHash removes a session by its hashed token. Used for the
	// opportunistic cleanup of confirmed-expired rows during validation.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// TouchLastActivity updates last_activity_at to now for a session.
	TouchLastActivity(ctx context.Context, sessionID uuid.UUID) error

	// DeleteExpired removes all expired sessions (cleanup sweep).
	DeleteExpired(ctx context.Context) (int, error)

	// ListRecentlyActive returns up to limit unexpired sessions for active
	// accounts, most-recent-activity-first, whose last activity falls within
	// the recency window. Used by the cache warmer.
	ListRecentlyActive(ctx context.Context, limit int, window time.Duration) ([]*models.Session, error)

	// CountRecentlyActive returns the number of sessions ListRecentlyActive
	// would consider, using the same filter predicate.
	CountRecentlyActive(ctx context.Context, window time.Duration) (int, error)
}

// CacheStore defines the interface for the derived, time-bounded session
// cache, keyed by hashed token.
type CacheStore interface {
	// Get returns the cached session for a token hash, or ErrCacheMiss.
	Get(ctx context.Context, tokenHash string) (*models.Session, error)

	// SetWithTTL stores a session under its token hash with the given TTL.
	SetWithTTL(ctx context.Context, tokenHash string, session *models.Session, ttl time.Duration) error

	// Delete removes a cached session. Deleting an absent key is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// PoolStats returns a snapshot of the client pool backing the cache.
	PoolStats(ctx context.Context) (*PoolStats, error)

	// Ping verifies connectivity to the cache store.
	Ping(ctx context.Context) error
}

// PoolStats is a read-only snapshot of a client connection pool.
type PoolStats struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	Pending   int   `json:"pending"`
	Errors24h int64 `json:"errors_24h"`
}

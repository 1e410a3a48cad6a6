package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
)

// keyPrefix namespaces session cache entries in a shared redis instance.
const keyPrefix = "session:"

// Config holds configuration for the redis-backed cache store.
type Config struct {
	// Addr is the redis endpoint, host:port.
	Addr string

	// Password for AUTH, empty for none.
	Password string

	// DB is the redis logical database number.
	DB int

	// PoolSize is the maximum number of socket connections.
	// Default: 10
	PoolSize int

	// DialTimeout in seconds. Default: 5
	DialTimeout int32

	// ReadTimeout in seconds. Default: 3
	ReadTimeout int32
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3
	}
}

// CacheStore implements store.CacheStore using redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a redis-backed cache store. It does not ping; callers
// decide whether startup should block on cache availability, since the cache
// being down only degrades performance.
func NewCacheStore(cfg *Config) (*CacheStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
	})

	return &CacheStore{client: client}, nil
}

// Get returns the cached session for a token hash, or store.ErrCacheMiss.
// Any other failure is reported as store.ErrCacheUnavailable so callers can
// fall through to the database.
func (c *CacheStore) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	data, err := c.client.Get(ctx, keyPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %s", store.ErrCacheUnavailable, err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		// Corrupt entry, drop it and report a miss
		log.Warn().Err(err).Msg("Dropping undecodable cache entry")
		_ = c.client.Del(ctx, keyPrefix+tokenHash).Err()
		return nil, store.ErrCacheMiss
	}

	return &session, nil
}

// SetWithTTL stores a session under its token hash with the given TTL.
func (c *CacheStore) SetWithTTL(ctx context.Context, tokenHash string, session *models.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+tokenHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %s", store.ErrCacheUnavailable, err)
	}

	return nil
}

// Delete removes a cached session. Deleting an absent key is not an error.
func (c *CacheStore) Delete(ctx context.Context, tokenHash string) error {
	if err := c.client.Del(ctx, keyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("%w: %s", store.ErrCacheUnavailable, err)
	}
	return nil
}

// PoolStats returns a snapshot of the redis client pool. Pending is the
// number of connections currently checked out; Errors24h maps to the client's
// cumulative timeout count, the closest surface go-redis exposes.
func (c *CacheStore) PoolStats(ctx context.Context) (*store.PoolStats, error) {
	stats := c.client.PoolStats()

	return &store.PoolStats{
		Size:      int(stats.TotalConns),
		Available: int(stats.IdleConns),
		Pending:   int(stats.TotalConns) - int(stats.IdleConns),
		Errors24h: int64(stats.Timeouts),
	}, nil
}

// Ping verifies connectivity to redis.
func (c *CacheStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %s", store.ErrCacheUnavailable, err)
	}
	return nil
}

// Close releases the underlying client pool.
func (c *CacheStore) Close() error {
	return c.client.Close()
}

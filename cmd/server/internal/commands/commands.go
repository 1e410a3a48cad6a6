package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	redisstore "github.com/wolfeidau/tenantgate/internal/store/redis"
)

type Globals struct {
	Debug   bool
	Version string
}

// PostgresFlags configures the authoritative session store.
type PostgresFlags struct {
	ConnString      string `help:"PostgreSQL connection string" env:"TENANTGATE_POSTGRES_CONN_STRING"`
	MaxConns        int32  `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32  `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32  `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32  `help:"maximum connection idle time in seconds" default:"1800"`
	AutoMigrate     bool   `help:"run database migrations on startup" default:"false" env:"TENANTGATE_POSTGRES_AUTO_MIGRATE"`
}

func (f *PostgresFlags) Validate() error {
	if f.ConnString == "" {
		return fmt.Errorf("PostgreSQL connection string is required (--postgres-conn-string or TENANTGATE_POSTGRES_CONN_STRING)")
	}
	return nil
}

// RedisFlags configures the cache store.
type RedisFlags struct {
	Addr     string `help:"redis address" default:"localhost:6379" env:"TENANTGATE_REDIS_ADDR"`
	Password string `help:"redis password" default:"" env:"TENANTGATE_REDIS_PASSWORD"`
	DB       int    `help:"redis database number" default:"0" env:"TENANTGATE_REDIS_DB"`
	PoolSize int    `help:"redis connection pool size" default:"10"`
}

// WarmingFlags configures startup cache warming.
type WarmingFlags struct {
	Disabled      bool          `help:"skip cache warming at startup" default:"false" env:"TENANTGATE_WARMING_DISABLED"`
	Blocking      bool          `help:"block startup until warming finishes" default:"false" env:"TENANTGATE_WARMING_BLOCKING"`
	SessionLimit  int           `help:"maximum sessions to warm" default:"1000"`
	BatchSize     int           `help:"sessions warmed concurrently per batch" default:"100"`
	BatchDelay    time.Duration `help:"delay between warming batches" default:"50ms"`
	Deadline      time.Duration `help:"overall warming deadline" default:"5m"`
	RecencyWindow time.Duration `help:"only warm sessions active within this window" default:"24h"`
}

// HotkeyFlags configures the hotkey detector.
type HotkeyFlags struct {
	Window         time.Duration `help:"sliding window length" default:"60s"`
	Bucket         time.Duration `help:"window bucket granularity" default:"1s"`
	Threshold      float64       `help:"hot threshold in accesses per minute" default:"1000"`
	MaxTrackedKeys int           `help:"maximum keys tracked before new keys are dropped" default:"10000"`
}

// CacheFlags configures the session cache.
type CacheFlags struct {
	MaxTTL time.Duration `help:"maximum cache entry TTL" default:"5m" env:"TENANTGATE_CACHE_MAX_TTL"`
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// connectStores brings up the postgres pool and redis cache store, retrying
// transient connection failures with exponential backoff. Postgres is
// required; redis failure is logged and tolerated since the cache store
// being down only degrades performance.
func connectStores(ctx context.Context, log zerolog.Logger, pg *PostgresFlags, rd *RedisFlags) (*pgxpool.Pool, *redisstore.CacheStore, error) {
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		return newPool(ctx, pg)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	cacheStore, err := redisstore.NewCacheStore(&redisstore.Config{
		Addr:     rd.Addr,
		Password: rd.Password,
		DB:       rd.DB,
		PoolSize: rd.PoolSize,
	})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to configure redis: %w", err)
	}

	if err := cacheStore.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache store unreachable at startup, validations will fall through to postgres")
	}

	return pool, cacheStore, nil
}

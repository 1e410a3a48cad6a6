package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/tenantgate/internal/cache"
	"github.com/wolfeidau/tenantgate/internal/hotkey"
	httpmiddleware "github.com/wolfeidau/tenantgate/internal/http"
	"github.com/wolfeidau/tenantgate/internal/logger"
	"github.com/wolfeidau/tenantgate/internal/server"
	postgresstore "github.com/wolfeidau/tenantgate/internal/store/postgres"
	"github.com/wolfeidau/tenantgate/internal/tenant"
	"github.com/wolfeidau/tenantgate/internal/warmer"
)

// ServeCmd starts the session gateway: ops surface plus the authenticated
// middleware stack, with cache warming kicked off alongside early traffic.
type ServeCmd struct {
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TENANTGATE_LISTEN"`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
	Redis    RedisFlags    `embed:"" prefix:"redis-"`
	Warming  WarmingFlags  `embed:"" prefix:"warming-"`
	Hotkey   HotkeyFlags   `embed:"" prefix:"hotkey-"`
	Cache    CacheFlags    `embed:"" prefix:"cache-"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	pool, cacheStore, err := connectStores(ctx, log, &c.Postgres, &c.Redis)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer cacheStore.Close()

	if c.Postgres.AutoMigrate {
		if err := postgresstore.RunMigrations(ctx, pool); err != nil {
			return err
		}
	}

	sessionStore := postgresstore.NewSessionStore(pool)

	detector := hotkey.NewDetector(hotkey.Config{
		WindowSize:     c.Hotkey.Window,
		BucketSize:     c.Hotkey.Bucket,
		HotThreshold:   c.Hotkey.Threshold,
		MaxTrackedKeys: c.Hotkey.MaxTrackedKeys,
	})

	sessionCache := cache.NewSessionCache(sessionStore, cacheStore, detector, cache.Config{
		MaxTTL: c.Cache.MaxTTL,
	})

	cacheWarmer := warmer.NewCacheWarmer(sessionStore, sessionCache, warmer.Config{
		SessionLimit:  c.Warming.SessionLimit,
		BatchSize:     c.Warming.BatchSize,
		BatchDelay:    c.Warming.BatchDelay,
		Deadline:      c.Warming.Deadline,
		RecencyWindow: c.Warming.RecencyWindow,
	})

	propagator := tenant.NewPropagator(pool)

	if !c.Warming.Disabled {
		if c.Warming.Blocking {
			cacheWarmer.WarmCache(ctx)
		} else {
			cacheWarmer.WarmCacheAsync(ctx)
		}
	}

	mux := http.NewServeMux()
	server.NewOpsHandler(sessionCache, detector, cacheWarmer, propagator).Register(mux)
	mux.Handle("GET /me", httpmiddleware.SessionAuthMiddleware(sessionCache)(server.MeHandler()))

	handler := logger.RequestLogging(log)(httpmiddleware.ClientIPMiddleware()(mux))
	httpServer := configureHTTPServer(c.Listen, handler)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", c.Listen).Msg("Serving")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func newPool(ctx context.Context, f *PostgresFlags) (*pgxpool.Pool, error) {
	return postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      f.ConnString,
		MaxConns:        f.MaxConns,
		MinConns:        f.MinConns,
		MaxConnLifetime: f.MaxConnLifetime,
		MaxConnIdleTime: f.MaxConnIdleTime,
	})
}

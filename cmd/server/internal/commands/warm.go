package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/tenantgate/internal/cache"
	"github.com/wolfeidau/tenantgate/internal/hotkey"
	"github.com/wolfeidau/tenantgate/internal/logger"
	postgresstore "github.com/wolfeidau/tenantgate/internal/store/postgres"
	"github.com/wolfeidau/tenantgate/internal/warmer"
)

// WarmCmd runs one blocking cache warming pass and prints the result. Useful
// after a cache store restart, without bouncing the gateway itself.
type WarmCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
	Redis    RedisFlags    `embed:"" prefix:"redis-"`
	Warming  WarmingFlags  `embed:"" prefix:"warming-"`
	Cache    CacheFlags    `embed:"" prefix:"cache-"`

	EstimateOnly bool `help:"print the warmable session count and exit" default:"false"`
}

func (c *WarmCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	pool, cacheStore, err := connectStores(ctx, log, &c.Postgres, &c.Redis)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer cacheStore.Close()

	sessionStore := postgresstore.NewSessionStore(pool)
	detector := hotkey.NewDetector(hotkey.Config{})
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

	if c.EstimateOnly {
		count, err := cacheWarmer.EstimateWarmableSessionCount(ctx)
		if err != nil {
			return fmt.Errorf("failed to estimate warmable sessions: %w", err)
		}
		fmt.Printf("warmable sessions: %d\n", count)
		return nil
	}

	result := cacheWarmer.WarmCache(ctx)

	fmt.Printf("status: %s warmed: %d/%d failed: %d duration: %s\n",
		result.Status, result.Warmed, result.Total, result.Failed,
		result.EndTime.Sub(result.StartTime).Round(10*time.Millisecond))

	return nil
}

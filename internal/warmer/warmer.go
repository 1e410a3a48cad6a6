package warmer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/cache"
	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
	"github.com/wolfeidau/tenantgate/internal/telemetry"
)

// Status describes the outcome of a warming run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Config holds configuration for the cache warmer.
type Config struct {
	// SessionLimit caps how many sessions one run will load. Default: 1000
	SessionLimit int

	// BatchSize is how many warm writes run concurrently. Default: 100
	BatchSize int

	// BatchDelay is the pause between batches, bounding write-burst
	// pressure on the cache store. Default: 50ms
	BatchDelay time.Duration

	// Deadline bounds a whole run. Exceeding it stops further batches and
	// marks the run timed out; an in-flight batch finishes. Default: 5m
	Deadline time.Duration

	// RecencyWindow selects sessions by last activity. Default: 24h
	RecencyWindow time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.SessionLimit == 0 {
		c.SessionLimit = 1000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = 50 * time.Millisecond
	}
	if c.Deadline == 0 {
		c.Deadline = 5 * time.Minute
	}
	if c.RecencyWindow == 0 {
		c.RecencyWindow = 24 * time.Hour
	}
}

// Result reports one warming run. It doubles as the mid-flight progress
// snapshot in non-blocking mode.
type Result struct {
	Total  int `json:"total"`
	Warmed int `json:"warmed"`
	Failed int `json:"failed"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"`
	Status    Status    `json:"status"`

	// HitRateEstimate is warmed/total, a first-order estimate rather than
	// a measured rate.
	HitRateEstimate float64 `json:"hit_rate_estimate"`
}

// CacheWarmer pre-populates the session cache with recently active sessions
// so the process reaches steady-state hit rate shortly after start. Failing
// to warm is always recoverable; the cache fills organically on misses.
type CacheWarmer struct {
	sessions store.SessionStore
	cache    *cache.SessionCache
	cfg      Config
	tel      *telemetry.Metrics

	mu       sync.Mutex
	running  bool
	progress Result
}

// NewCacheWarmer creates a cache warmer.
func NewCacheWarmer(sessions store.SessionStore, sessionCache *cache.SessionCache, cfg Config) *CacheWarmer {
	cfg.ApplyDefaults()

	return &CacheWarmer{
		sessions: sessions,
		cache:    sessionCache,
		cfg:      cfg,
		tel:      telemetry.GetMetrics(),
	}
}

// WarmCache runs one warming pass to completion (or deadline) and returns
// the result. Candidate-query failures yield a completed, zero-session
// result rather than an error: crashing startup over a warm failure is
// never acceptable.
func (w *CacheWarmer) WarmCache(ctx context.Context) *Result {
	w.mu.Lock()
	if w.running {
		progress := w.progress
		w.mu.Unlock()
		log.Warn().Msg("Cache warming already in progress")
		return &progress
	}
	w.running = true
	w.progress = Result{StartTime: time.Now(), Status: StatusRunning}
	w.mu.Unlock()

	result := w.run(ctx)

	w.mu.Lock()
	w.running = false
	w.progress = *result
	w.mu.Unlock()

	return result
}

// WarmCacheAsync starts a warming pass in the background. Progress is
// queryable mid-flight via Progress.
func (w *CacheWarmer) WarmCacheAsync(ctx context.Context) {
	go func() {
		w.WarmCache(ctx)
	}()
}

// Progress returns a snapshot of the current (or most recent) run.
func (w *CacheWarmer) Progress() Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.progress
}

// EstimateWarmableSessionCount returns how many sessions the warming filter
// currently matches, for operator sizing.
func (w *CacheWarmer) EstimateWarmableSessionCount(ctx context.Context) (int, error) {
	return w.sessions.CountRecentlyActive(ctx, w.cfg.RecencyWindow)
}

func (w *CacheWarmer) run(ctx context.Context) *Result {
	started := time.Now()
	result := &Result{StartTime: started, Status: StatusCompleted}
	deadline := started.Add(w.cfg.Deadline)

	defer func() {
		result.EndTime = time.Now()
		if result.Total > 0 {
			result.HitRateEstimate = float64(result.Warmed) / float64(result.Total)
		}
		w.tel.WarmingDuration.Record(ctx, float64(result.EndTime.Sub(started).Milliseconds()))

		log.Info().
			Int("total", result.Total).
			Int("warmed", result.Warmed).
			Int("failed", result.Failed).
			Str("status", string(result.Status)).
			Dur("duration", result.EndTime.Sub(started)).
			Msg("Cache warming finished")
	}()

	sessions, err := w.sessions.ListRecentlyActive(ctx, w.cfg.SessionLimit, w.cfg.RecencyWindow)
	if err != nil {
		log.Warn().Err(err).Msg("Cache warming query failed, cache will fill organically")
		return result
	}

	result.Total = len(sessions)
	w.setProgress(result)

	if len(sessions) == 0 {
		return result
	}

	log.Info().Int("total", result.Total).Int("batch_size", w.cfg.BatchSize).Msg("Warming session cache")

	for start := 0; start < len(sessions); start += w.cfg.BatchSize {
		// Deadline and cancellation are checked between batches only; an
		// in-flight batch is allowed to finish.
		if time.Now().After(deadline) || ctx.Err() != nil {
			result.Status = StatusTimeout
			return result
		}

		if start > 0 {
			select {
			case <-time.After(w.cfg.BatchDelay):
			case <-ctx.Done():
				result.Status = StatusTimeout
				return result
			}
		}

		end := min(start+w.cfg.BatchSize, len(sessions))
		warmed, failed := w.warmBatch(ctx, sessions[start:end])
		result.Warmed += warmed
		result.Failed += failed
		w.setProgress(result)
	}

	return result
}

// warmBatch fans the batch out concurrently and joins before returning.
func (w *CacheWarmer) warmBatch(ctx context.Context, batch []*models.Session) (warmed, failed int) {
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, session := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := w.cache.WarmSession(ctx, session.TokenHash, session)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Counted, never propagated.
				log.Debug().Err(err).Str("session_id", session.ID.String()).Msg("Failed to warm session")
				failed++
				w.tel.SessionsWarmFailedTotal.Add(ctx, 1)
				return
			}
			warmed++
			w.tel.SessionsWarmedTotal.Add(ctx, 1)
		}()
	}

	wg.Wait()
	return warmed, failed
}

func (w *CacheWarmer) setProgress(result *Result) {
	w.mu.Lock()
	defer w.mu.Unlock()

	progress := *result
	if progress.Total > 0 {
		progress.HitRateEstimate = float64(progress.Warmed) / float64(progress.Total)
	}
	w.progress = progress
}

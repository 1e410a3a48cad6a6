package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/cache"
	"github.com/wolfeidau/tenantgate/internal/hotkey"
	"github.com/wolfeidau/tenantgate/internal/telemetry"
	"github.com/wolfeidau/tenantgate/internal/tenant"
	"github.com/wolfeidau/tenantgate/internal/warmer"
)

// OpsHandler exposes the read-only, pull-based operational surface: cache
// hit rate, pool utilization, top hot keys and threshold breaches, warming
// progress, and tenant-context health. It never mutates state.
type OpsHandler struct {
	cache      *cache.SessionCache
	detector   *hotkey.Detector
	warmer     *warmer.CacheWarmer
	propagator *tenant.Propagator
}

// NewOpsHandler creates the operational surface over the four components.
func NewOpsHandler(sessionCache *cache.SessionCache, detector *hotkey.Detector, cacheWarmer *warmer.CacheWarmer, propagator *tenant.Propagator) *OpsHandler {
	return &OpsHandler{
		cache:      sessionCache,
		detector:   detector,
		warmer:     cacheWarmer,
		propagator: propagator,
	}
}

// Register mounts the ops routes on mux.
func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ops/cache", h.handleCache)
	mux.HandleFunc("GET /ops/hotkeys", h.handleHotkeys)
	mux.HandleFunc("GET /ops/warming", h.handleWarming)
	mux.HandleFunc("GET /ops/tenant", h.handleTenant)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *OpsHandler) handleCache(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Metrics   cache.CounterSnapshot `json:"metrics"`
		PoolStats any                   `json:"pool_stats,omitempty"`
		PoolError string                `json:"pool_error,omitempty"`
	}

	resp := response{Metrics: h.cache.Metrics()}

	stats, err := h.cache.PoolStats(r.Context())
	if err != nil {
		resp.PoolError = err.Error()
	} else {
		resp.PoolStats = stats
	}

	writeJSON(w, resp)
}

func (h *OpsHandler) handleHotkeys(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	metrics, stats := h.detector.Hotkeys(limit, time.Now())
	telemetry.GetMetrics().HotkeysDetected.Record(r.Context(), int64(stats.ThresholdExceeded))

	writeJSON(w, struct {
		Hotkeys []hotkey.Metric `json:"hotkeys"`
		Stats   hotkey.Stats    `json:"stats"`
	}{Hotkeys: metrics, Stats: stats})
}

func (h *OpsHandler) handleWarming(w http.ResponseWriter, r *http.Request) {
	progress := h.warmer.Progress()

	resp := struct {
		Progress warmer.Result `json:"progress"`
		Warmable int           `json:"warmable,omitempty"`
	}{Progress: progress}

	if count, err := h.warmer.EstimateWarmableSessionCount(r.Context()); err == nil {
		resp.Warmable = count
	}

	writeJSON(w, resp)
}

func (h *OpsHandler) handleTenant(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.propagator.Metrics())
}

func (h *OpsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode ops response")
	}
}

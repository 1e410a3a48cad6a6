package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tenantgate"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session cache metrics
	CacheHitsTotal      metric.Int64Counter
	CacheMissesTotal    metric.Int64Counter
	ValidateDuration    metric.Float64Histogram
	CacheFallbackTotal  metric.Int64Counter
	ActivityTouchErrors metric.Int64Counter

	// Warming metrics
	SessionsWarmedTotal     metric.Int64Counter
	SessionsWarmFailedTotal metric.Int64Counter
	WarmingDuration         metric.Float64Histogram

	// Tenant context metrics
	TenantContextTotal       metric.Int64Counter
	TenantContextErrorsTotal metric.Int64Counter
	TenantContextDuration    metric.Float64Histogram

	// Hotkey metrics
	HotkeysDetected metric.Int64Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"tenantgate.cache.hits.total",
		metric.WithDescription("Total number of session cache hits"),
		metric.WithUnit("{access}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"tenantgate.cache.misses.total",
		metric.WithDescription("Total number of session cache misses"),
		metric.WithUnit("{access}"),
	)

	m.ValidateDuration, _ = meter.Float64Histogram(
		"tenantgate.cache.validate.duration",
		metric.WithDescription("Duration of session validation"),
		metric.WithUnit("ms"),
	)

	m.CacheFallbackTotal, _ = meter.Int64Counter(
		"tenantgate.cache.fallback.total",
		metric.WithDescription("Validations served by the database because the cache store was unavailable"),
		metric.WithUnit("{access}"),
	)

	m.ActivityTouchErrors, _ = meter.Int64Counter(
		"tenantgate.cache.touch.errors.total",
		metric.WithDescription("Failed fire-and-forget activity touches"),
		metric.WithUnit("{error}"),
	)

	m.SessionsWarmedTotal, _ = meter.Int64Counter(
		"tenantgate.warming.sessions.total",
		metric.WithDescription("Sessions written into the cache by the warmer"),
		metric.WithUnit("{session}"),
	)

	m.SessionsWarmFailedTotal, _ = meter.Int64Counter(
		"tenantgate.warming.failures.total",
		metric.WithDescription("Sessions the warmer failed to write"),
		metric.WithUnit("{session}"),
	)

	m.WarmingDuration, _ = meter.Float64Histogram(
		"tenantgate.warming.duration",
		metric.WithDescription("Duration of cache warming runs"),
		metric.WithUnit("ms"),
	)

	m.TenantContextTotal, _ = meter.Int64Counter(
		"tenantgate.tenant.context.total",
		metric.WithDescription("Tenant-context-wrapped units of work"),
		metric.WithUnit("{request}"),
	)

	m.TenantContextErrorsTotal, _ = meter.Int64Counter(
		"tenantgate.tenant.context.errors.total",
		metric.WithDescription("Tenant-context units of work that failed"),
		metric.WithUnit("{error}"),
	)

	m.TenantContextDuration, _ = meter.Float64Histogram(
		"tenantgate.tenant.context.duration",
		metric.WithDescription("Duration of tenant-context-wrapped units of work"),
		metric.WithUnit("ms"),
	)

	m.HotkeysDetected, _ = meter.Int64Gauge(
		"tenantgate.hotkeys.detected",
		metric.WithDescription("Keys currently over the hot threshold"),
		metric.WithUnit("{key}"),
	)

	return m
}

package hotkey

import (
	"sort"
	"sync"
	"time"
)

// Config holds configuration for the hotkey detector.
type Config struct {
	// WindowSize is the sliding window length. Default: 60s
	WindowSize time.Duration

	// BucketSize is the granularity of the window. Default: 1s
	BucketSize time.Duration

	// HotThreshold is the accesses-per-minute rate at which a key is
	// considered hot. Default: 1000
	HotThreshold float64

	// MaxTrackedKeys bounds memory under key-space explosion. Accesses to
	// new keys beyond the cap are silently untracked. Default: 10000
	MaxTrackedKeys int

	// GCInterval is how often stale buckets and dead keys are swept,
	// checked opportunistically during Track. Default: 30s
	GCInterval time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 60 * time.Second
	}
	if c.BucketSize == 0 {
		c.BucketSize = time.Second
	}
	if c.HotThreshold == 0 {
		c.HotThreshold = 1000
	}
	if c.MaxTrackedKeys == 0 {
		c.MaxTrackedKeys = 10000
	}
	if c.GCInterval == 0 {
		c.GCInterval = 30 * time.Second
	}

	// A bucket wider than the window would leave the ring with zero slots.
	// Clamp instead of erroring; the detector degrades, it never fails.
	if c.BucketSize > c.WindowSize {
		c.BucketSize = c.WindowSize
	}
}

// Metric describes one tracked key's windowed access rate.
type Metric struct {
	Key               string  `json:"key"`
	AccessCount       int64   `json:"access_count"`
	AccessesPerMinute float64 `json:"accesses_per_minute"`
	IsHot             bool    `json:"is_hot"`
}

// Stats summarizes the detector's state.
type Stats struct {
	TotalKeys         int   `json:"total_keys"`
	TotalAccesses     int64 `json:"total_accesses"`
	ThresholdExceeded int   `json:"threshold_exceeded"`
}

// keyWindow is a fixed ring of per-bucket counters. Each slot remembers the
// bucket epoch it was last written in, so stale slots are detected lazily
// instead of being cleared on a timer.
type keyWindow struct {
	counts    []int64
	epochs    []int64
	firstSeen time.Time
	lastSeen  time.Time
}

// Detector flags cache keys whose access frequency could create a
// bottleneck. It is a side channel on the cache hot path: Track is O(1),
// never blocks on I/O, and never returns an error.
type Detector struct {
	mu sync.Mutex

	cfg     Config
	buckets int

	keys          map[string]*keyWindow
	totalAccesses int64
	lastGC        time.Time
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	cfg.ApplyDefaults()

	return &Detector{
		cfg:     cfg,
		buckets: int(cfg.WindowSize / cfg.BucketSize),
		keys:    make(map[string]*keyWindow),
	}
}

// Track records one access to key at the given time. If the tracked-key cap
// is reached and key is new, the access is silently untracked.
func (d *Detector) Track(key string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeGC(now)

	w, ok := d.keys[key]
	if !ok {
		if len(d.keys) >= d.cfg.MaxTrackedKeys {
			return
		}
		w = &keyWindow{
			counts:    make([]int64, d.buckets),
			epochs:    make([]int64, d.buckets),
			firstSeen: now,
		}
		d.keys[key] = w
	}

	epoch := now.UnixNano() / int64(d.cfg.BucketSize)
	slot := int(epoch % int64(d.buckets))
	if w.epochs[slot] != epoch {
		w.epochs[slot] = epoch
		w.counts[slot] = 0
	}
	w.counts[slot]++
	w.lastSeen = now
	d.totalAccesses++
}

// Hotkeys returns the top limit keys by descending accesses-per-minute, plus
// aggregate stats over the whole tracked set.
func (d *Detector) Hotkeys(limit int, now time.Time) ([]Metric, Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	metrics := make([]Metric, 0, len(d.keys))
	stats := Stats{
		TotalKeys:     len(d.keys),
		TotalAccesses: d.totalAccesses,
	}

	for key, w := range d.keys {
		count := d.windowedCount(w, now)
		if count == 0 {
			continue
		}
		m := Metric{
			Key:               key,
			AccessCount:       count,
			AccessesPerMinute: float64(count) * float64(time.Minute) / float64(d.cfg.WindowSize),
		}
		m.IsHot = m.AccessesPerMinute >= d.cfg.HotThreshold
		if m.IsHot {
			stats.ThresholdExceeded++
		}
		metrics = append(metrics, m)
	}

	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].AccessesPerMinute > metrics[j].AccessesPerMinute
	})

	if limit > 0 && len(metrics) > limit {
		metrics = metrics[:limit]
	}

	return metrics, stats
}

// IsHotkey reports whether key's windowed rate meets the hot threshold.
func (d *Detector) IsHotkey(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.keys[key]
	if !ok {
		return false
	}

	count := d.windowedCount(w, now)
	rate := float64(count) * float64(time.Minute) / float64(d.cfg.WindowSize)
	return rate >= d.cfg.HotThreshold
}

// GetStats returns aggregate detector stats without computing per-key rates.
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		TotalKeys:     len(d.keys),
		TotalAccesses: d.totalAccesses,
	}
}

// Reset clears all detector state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.keys = make(map[string]*keyWindow)
	d.totalAccesses = 0
	d.lastGC = time.Time{}
}

// windowedCount sums the buckets still inside the window ending at now.
// Caller holds d.mu.
func (d *Detector) windowedCount(w *keyWindow, now time.Time) int64 {
	epoch := now.UnixNano() / int64(d.cfg.BucketSize)
	oldest := epoch - int64(d.buckets) + 1

	var count int64
	for i := 0; i < d.buckets; i++ {
		if w.epochs[i] >= oldest && w.epochs[i] <= epoch {
			count += w.counts[i]
		}
	}
	return count
}

// maybeGC removes keys whose entire window has aged out. Runs at most once
// per GCInterval, piggybacked on Track. Caller holds d.mu.
func (d *Detector) maybeGC(now time.Time) {
	if now.Sub(d.lastGC) < d.cfg.GCInterval {
		return
	}
	d.lastGC = now

	for key, w := range d.keys {
		if d.windowedCount(w, now) == 0 {
			delete(d.keys, key)
		}
	}
}

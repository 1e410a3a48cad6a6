package cache

import "sync/atomic"

// Counters is the process-wide hit/miss state for one session cache.
// Construct explicitly and inject by reference so tests get isolated
// instances; updates are lock-free.
type Counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// CounterSnapshot is a point-in-time read of the counters.
type CounterSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

// RecordHit increments the hit counter.
func (c *Counters) RecordHit() {
	c.hits.Add(1)
}

// RecordMiss increments the miss counter.
func (c *Counters) RecordMiss() {
	c.misses.Add(1)
}

// Snapshot reads the counters. HitRate is 0 when no accesses were recorded.
func (c *Counters) Snapshot() CounterSnapshot {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	s := CounterSnapshot{
		Hits:   hits,
		Misses: misses,
		Total:  total,
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

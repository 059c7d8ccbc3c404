package cache

import "time"

// Memory reports estimated byte usage against the configured ceiling.
type Memory struct {
	Used    int64   `json:"used"`
	Limit   int64   `json:"limit"`
	Percent float64 `json:"percent"`
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	EntryCount    int       `json:"entry_count"`
	TotalSize     int64     `json:"total_size"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	HitRate       float64   `json:"hit_rate"`
	MissRate      float64   `json:"miss_rate"`
	EvictionCount int64     `json:"eviction_count"`
	OldestEntry   time.Time `json:"oldest_entry,omitzero"`
	NewestEntry   time.Time `json:"newest_entry,omitzero"`
	Memory        Memory    `json:"memory"`
}

// Stats returns current counters and occupancy. Rates are percentages of
// all lookups since the last ResetStats.
func (c *ResponseCache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s := Stats{
		EntryCount:    len(c.entries),
		TotalSize:     c.totalSize,
		Hits:          c.hits,
		Misses:        c.misses,
		EvictionCount: c.evictions,
		Memory:        Memory{Used: c.totalSize, Limit: c.cfg.maxSize},
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total) * 100
		s.MissRate = float64(c.misses) / float64(total) * 100
	}
	if c.cfg.maxSize > 0 {
		s.Memory.Percent = float64(c.totalSize) / float64(c.cfg.maxSize) * 100
	}
	for _, e := range c.entries {
		if s.OldestEntry.IsZero() || e.Timestamp.Before(s.OldestEntry) {
			s.OldestEntry = e.Timestamp
		}
		if e.Timestamp.After(s.NewestEntry) {
			s.NewestEntry = e.Timestamp
		}
	}
	return s
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *ResponseCache) ResetStats() {
	c.mutex.Lock()
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.mutex.Unlock()
}

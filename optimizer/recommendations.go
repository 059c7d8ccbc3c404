package optimizer

import (
	"fmt"
	"sort"
)

const (
	lowHitRate          = 30.0
	highDuplicateRate   = 20.0
	highErrorRate       = 10.0
	rateLimitPressure   = 0.8
	costLimitPressure   = 0.8
	cacheMemoryPressure = 90.0
	minSample           = 10
)

// Recommendations returns advisory messages derived from the current
// statistics. It has no side effects.
func (o *Optimizer) Recommendations() []string {
	stats := o.Stats()
	var out []string

	if c := stats.Cache; c != nil {
		if c.Hits+c.Misses >= minSample && c.HitRate < lowHitRate {
			out = append(out, fmt.Sprintf("Cache hit rate is %.1f%%, below %.0f%%; consider enabling caching for more request types or raising cache TTLs", c.HitRate, lowHitRate))
		}
		if c.Memory.Percent > cacheMemoryPressure {
			out = append(out, fmt.Sprintf("Cache memory usage is at %.1f%% of its limit; consider raising the size limit or shortening TTLs", c.Memory.Percent))
		}
		if c.EvictionCount > int64(c.EntryCount) && c.EntryCount > 0 {
			out = append(out, fmt.Sprintf("Cache evicted %d entries while holding %d; entries are being dropped before they can be reused", c.EvictionCount, c.EntryCount))
		}
	}
	if d := stats.Dedup; d != nil && d.TotalRequests >= minSample && d.DeduplicationRate > highDuplicateRate {
		out = append(out, fmt.Sprintf("%.1f%% of requests were duplicates of in-flight requests; consider caching these responses", d.DeduplicationRate))
	}
	if stats.RateLimited > 0 {
		out = append(out, fmt.Sprintf("%d requests were rejected by rate limits; consider batching requests or spreading load over time", stats.RateLimited))
	}

	names := make([]string, 0, len(stats.Providers))
	for name := range stats.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		usage := stats.Providers[name]
		limits := o.cfg.providers[name]
		if usage.RequestCount+usage.ErrorCount >= minSample && usage.ErrorRate() > highErrorRate {
			out = append(out, fmt.Sprintf("Provider %s has an error rate of %.1f%%; consider enabling recovery strategies or a fallback provider", name, usage.ErrorRate()))
		}
		rl := stats.RateLimits[name]
		if limits.RequestsPerMinute > 0 && float64(rl.RequestsLastMinute) >= rateLimitPressure*float64(limits.RequestsPerMinute) {
			out = append(out, fmt.Sprintf("Provider %s used %d of %d requests in the last minute; consider batching requests", name, rl.RequestsLastMinute, limits.RequestsPerMinute))
		}
		if limits.DailyCostLimit > 0 && usage.DailyCost >= costLimitPressure*limits.DailyCostLimit {
			out = append(out, fmt.Sprintf("Provider %s has spent %.1f%% of its daily cost limit", name, usage.DailyCost/limits.DailyCostLimit*100))
		}
		if limits.MonthlyCostLimit > 0 && usage.MonthlyCost >= costLimitPressure*limits.MonthlyCostLimit {
			out = append(out, fmt.Sprintf("Provider %s has spent %.1f%% of its monthly cost limit", name, usage.MonthlyCost/limits.MonthlyCostLimit*100))
		}
	}
	return out
}

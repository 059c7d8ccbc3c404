package optimizer

import (
	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/dedup"
)

// Stats combines the optimizer's counters with the cache and deduplicator
// statistics and a per-provider view.
type Stats struct {
	TotalRequests int64                      `json:"total_requests"`
	RequestsSaved int64                      `json:"requests_saved"`
	CostSaved     float64                    `json:"cost_saved"`
	TokensSaved   int64                      `json:"tokens_saved"`
	RateLimited   int64                      `json:"rate_limited"`
	CostRejected  int64                      `json:"cost_rejected"`
	Batches       int64                      `json:"batches"`
	Cache         *cache.Stats               `json:"cache,omitempty"`
	Dedup         *dedup.Stats               `json:"dedup,omitempty"`
	Providers     map[string]ProviderUsage   `json:"providers"`
	RateLimits    map[string]RateLimitStatus `json:"rate_limits"`
}

// Stats returns a snapshot built from copies of the provider state, so
// reading it never changes what later calls observe. Providers that are
// configured but never used are included with zero usage.
func (o *Optimizer) Stats() Stats {
	now := o.cfg.clock.Now()
	o.mutex.Lock()
	s := Stats{
		TotalRequests: o.totalRequests,
		RequestsSaved: o.requestsSaved,
		CostSaved:     o.costSaved,
		TokensSaved:   o.tokensSaved,
		RateLimited:   o.rateLimited,
		CostRejected:  o.costRejected,
		Batches:       o.batches,
		Providers:     make(map[string]ProviderUsage),
		RateLimits:    make(map[string]RateLimitStatus),
	}
	for name, limits := range o.cfg.providers {
		var empty window
		s.Providers[name] = ProviderUsage{}
		s.RateLimits[name] = empty.status(limits, now)
	}
	for name, p := range o.providers {
		usage := p.usage
		usage.roll(now)
		s.Providers[name] = usage
		s.RateLimits[name] = p.window.status(o.cfg.providers[name], now)
	}
	o.mutex.Unlock()

	if o.cache != nil {
		cs := o.cache.Stats()
		s.Cache = &cs
	}
	if o.dedup != nil {
		ds := o.dedup.Stats()
		s.Dedup = &ds
	}
	return s
}

// Limits returns the configured limits of provider.
func (o *Optimizer) Limits(provider string) ProviderLimits {
	return o.cfg.providers[provider]
}

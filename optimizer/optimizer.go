// Package optimizer routes provider requests through rate limiting, the
// response cache and request deduplication, and tracks per-provider usage
// and spend.
package optimizer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/dedup"
	"github.com/hallucifix/go-resilience/sys"
)

// Work performs one upstream request.
type Work func(ctx context.Context) (any, error)

// RequestOptions describes a single request.
type RequestOptions struct {
	// Cacheable enables the cache lookup and population.
	Cacheable bool
	// CacheTTL overrides the cache's default TTL.
	CacheTTL time.Duration
	// Tags are added to the cache entry next to the provider name.
	Tags []string
	// EstimatedCost is charged to the provider on success. When zero, the
	// cost is derived from Model and the token counts using the pricing table.
	EstimatedCost float64
	// EstimatedTokens is added to the provider's token counter on success.
	// When zero, InputTokens+OutputTokens is used.
	EstimatedTokens int64
	Model           string
	InputTokens     int64
	OutputTokens    int64
}

type providerState struct {
	usage  ProviderUsage
	window window
}

// Optimizer is the UsageOptimizer. A nil cache or deduplicator disables the
// corresponding step.
type Optimizer struct {
	cache *cache.ResponseCache
	dedup *dedup.Deduplicator
	cfg   config

	mutex         sync.Mutex
	providers     map[string]*providerState
	totalRequests int64
	requestsSaved int64
	costSaved     float64
	tokensSaved   int64
	rateLimited   int64
	costRejected  int64
	batches       int64
}

// New returns an Optimizer backed by c and d.
func New(c *cache.ResponseCache, d *dedup.Deduplicator, opts ...Option) *Optimizer {
	return &Optimizer{
		cache:     c,
		dedup:     d,
		cfg:       applyOptions(opts),
		providers: make(map[string]*providerState),
	}
}

// state must be called with the mutex held.
func (o *Optimizer) state(provider string) *providerState {
	s, ok := o.providers[provider]
	if !ok {
		s = &providerState{}
		o.providers[provider] = s
	}
	return s
}

func (o *Optimizer) estimate(opts RequestOptions) (float64, int64) {
	cost := opts.EstimatedCost
	if cost == 0 && opts.Model != "" && o.cfg.pricing != nil {
		cost = o.cfg.pricing.Cost(opts.Model, opts.InputTokens, opts.OutputTokens)
	}
	tokens := opts.EstimatedTokens
	if tokens == 0 {
		tokens = opts.InputTokens + opts.OutputTokens
	}
	return cost, tokens
}

// reserve counts requests and takes n rate-limit slots for provider.
func (o *Optimizer) reserve(provider string, requests int64, n int) error {
	now := o.cfg.clock.Now()
	o.mutex.Lock()
	o.totalRequests += requests
	err := o.state(provider).window.reserve(provider, o.cfg.providers[provider], now, n)
	if err != nil {
		o.rateLimited++
	}
	o.mutex.Unlock()
	if err != nil {
		o.cfg.log.Warn("%s", err)
	}
	return err
}

func (o *Optimizer) recordSaved(provider string, cost float64, tokens int64) {
	o.mutex.Lock()
	s := o.state(provider)
	s.usage.RequestsSaved++
	s.usage.CostSaved += cost
	o.requestsSaved++
	o.costSaved += cost
	o.tokensSaved += tokens
	o.mutex.Unlock()
}

func (o *Optimizer) recordUsage(provider string, requests int64, cost float64, tokens int64) {
	now := o.cfg.clock.Now()
	o.mutex.Lock()
	o.state(provider).usage.record(now, requests, cost, tokens)
	o.mutex.Unlock()
}

func (o *Optimizer) recordError(provider string) {
	o.mutex.Lock()
	o.state(provider).usage.ErrorCount++
	o.mutex.Unlock()
}

func (o *Optimizer) checkCost(provider string, cost float64) error {
	if !o.cfg.enforceCost || o.IsWithinCostLimits(provider, cost) {
		return nil
	}
	o.mutex.Lock()
	o.costRejected++
	o.mutex.Unlock()
	return errors.Wrapf(apierror.ErrCostLimitExceeded, "optimizer: provider %q, estimated cost %.6f", provider, cost)
}

// IsWithinCostLimits reports whether a request costing estimatedCost fits
// under the provider's per-request, daily and monthly limits. It does not
// change any state.
func (o *Optimizer) IsWithinCostLimits(provider string, estimatedCost float64) bool {
	now := o.cfg.clock.Now()
	o.mutex.Lock()
	defer o.mutex.Unlock()
	limits := o.cfg.providers[provider]
	s, ok := o.providers[provider]
	if !ok {
		var empty ProviderUsage
		return empty.withinLimits(limits, now, estimatedCost)
	}
	return s.usage.withinLimits(limits, now, estimatedCost)
}

// OptimizeRequest runs work for provider. In order it checks the rate limit,
// returns a cached value when opts.Cacheable, then runs work through the
// deduplicator. Caching and usage accounting happen when work settles, even
// if the caller that started it has stopped waiting. Failures from work are
// counted against the provider once per execution and returned unchanged.
//
// When several callers share one deduplicated execution, only the caller
// whose work ran is charged; the others count as saved requests.
func (o *Optimizer) OptimizeRequest(ctx context.Context, provider, cacheKey string, work Work, opts RequestOptions) (any, error) {
	cost, tokens := o.estimate(opts)
	if err := o.reserve(provider, 1, 1); err != nil {
		return nil, err
	}

	if opts.Cacheable && o.cache != nil {
		if val, ok := o.cache.Get(cacheKey); ok {
			o.recordSaved(provider, cost, tokens)
			o.cfg.log.Debug("cache hit for %s on %s", cacheKey, provider)
			return val, nil
		}
	}

	if err := o.checkCost(provider, cost); err != nil {
		return nil, err
	}

	var executed atomic.Bool
	run := func(ctx context.Context) (any, error) {
		executed.Store(true)
		val, err := sys.SafeCall(o.cfg.log, func() (any, error) { return work(ctx) })
		if err != nil {
			if !isCancellation(ctx, err) {
				o.recordError(provider)
			}
			return nil, err
		}
		if opts.Cacheable && o.cache != nil {
			o.cache.Set(cacheKey, val, cache.SetOptions{TTL: opts.CacheTTL, Tags: cacheTags(provider, opts.Tags)})
		}
		o.recordUsage(provider, 1, cost, tokens)
		return val, nil
	}
	var val any
	var err error
	if o.cfg.deduplication && o.dedup != nil {
		val, err = o.dedup.Execute(ctx, cacheKey, run, dedup.ExecuteOptions{})
	} else {
		val, err = run(ctx)
	}
	if err != nil {
		return nil, err
	}
	if !executed.Load() {
		o.recordSaved(provider, cost, tokens)
	}
	return val, nil
}

// isCancellation reports whether err is ctx's own cancellation rather than a
// failure of the provider.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func cacheTags(provider string, tags []string) []string {
	out := make([]string, 0, len(tags)+1)
	out = append(out, provider)
	return append(out, tags...)
}

// Do is a typed wrapper around OptimizeRequest.
func Do[T any](ctx context.Context, o *Optimizer, provider, cacheKey string, work func(ctx context.Context) (T, error), opts RequestOptions) (T, error) {
	var zero T
	val, err := o.OptimizeRequest(ctx, provider, cacheKey, func(ctx context.Context) (any, error) {
		v, err := work(ctx)
		return v, err
	}, opts)
	if err != nil {
		return zero, err
	}
	if val == nil {
		return zero, nil
	}
	return cache.As[T](val)
}

// ResetStats zeroes the optimizer's counters, provider usage and the cache
// and deduplicator statistics. Rate-limit windows are kept.
func (o *Optimizer) ResetStats() {
	o.mutex.Lock()
	o.totalRequests, o.requestsSaved, o.tokensSaved = 0, 0, 0
	o.rateLimited, o.costRejected, o.batches = 0, 0, 0
	o.costSaved = 0
	for _, s := range o.providers {
		s.usage = ProviderUsage{}
	}
	o.mutex.Unlock()
	if o.cache != nil {
		o.cache.ResetStats()
	}
	if o.dedup != nil {
		o.dedup.ResetStats()
	}
}

// Shutdown stops the cache and deduplicator background work.
func (o *Optimizer) Shutdown() error {
	var errs []error
	if o.cache != nil {
		errs = append(errs, o.cache.Close())
	}
	if o.dedup != nil {
		errs = append(errs, o.dedup.Close())
	}
	return errors.Join(errs...)
}

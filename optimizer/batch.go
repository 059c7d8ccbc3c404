package optimizer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/cache"
)

// BatchItem is one request in a batch.
type BatchItem struct {
	CacheKey string
	Request  any
	Options  RequestOptions
}

// BatchExecutor sends the uncached requests upstream in one call and
// returns one result per request, in the same order.
type BatchExecutor func(ctx context.Context, requests []any) ([]any, error)

// ErrBatchSize is returned when a BatchExecutor returns the wrong number of
// results.
var ErrBatchSize = errors.New("batch executor returned a mismatched result count")

// OptimizeBatchRequest serves cacheable items from the cache and sends the
// rest to executor in a single call guarded by a single rate-limit check.
// Results are returned in the order of items.
func (o *Optimizer) OptimizeBatchRequest(ctx context.Context, provider string, items []BatchItem, executor BatchExecutor) ([]any, error) {
	results := make([]any, len(items))
	var pending, hits []int
	for i, item := range items {
		if item.Options.Cacheable && o.cache != nil {
			if val, ok := o.cache.Get(item.CacheKey); ok {
				results[i] = val
				hits = append(hits, i)
				continue
			}
		}
		pending = append(pending, i)
	}

	o.mutex.Lock()
	o.batches++
	o.mutex.Unlock()

	if len(pending) == 0 {
		o.mutex.Lock()
		o.totalRequests += int64(len(items))
		o.mutex.Unlock()
		o.recordHits(provider, items, hits)
		o.cfg.log.Debug("batch of %d served entirely from cache for %s", len(items), provider)
		return results, nil
	}
	if err := o.reserve(provider, int64(len(items)), 1); err != nil {
		return nil, err
	}

	var totalCost float64
	var totalTokens int64
	requests := make([]any, len(pending))
	for j, i := range pending {
		requests[j] = items[i].Request
		cost, tokens := o.estimate(items[i].Options)
		totalCost += cost
		totalTokens += tokens
	}
	if err := o.checkCost(provider, totalCost); err != nil {
		return nil, err
	}
	o.recordHits(provider, items, hits)

	values, err := executor(ctx, requests)
	if err == nil && len(values) != len(requests) {
		err = errors.Wrapf(ErrBatchSize, "optimizer: sent %d requests, got %d results", len(requests), len(values))
	}
	if err != nil {
		o.recordError(provider)
		return nil, err
	}

	for j, i := range pending {
		results[i] = values[j]
		opts := items[i].Options
		if opts.Cacheable && o.cache != nil {
			o.cache.Set(items[i].CacheKey, values[j], cache.SetOptions{TTL: opts.CacheTTL, Tags: cacheTags(provider, opts.Tags)})
		}
	}
	o.recordUsage(provider, int64(len(pending)), totalCost, totalTokens)
	o.cfg.log.Debug("batch of %d for %s: %d cached, %d executed", len(items), provider, len(items)-len(pending), len(pending))
	return results, nil
}

// recordHits counts the cached items of an admitted batch as saved requests.
func (o *Optimizer) recordHits(provider string, items []BatchItem, hits []int) {
	for _, i := range hits {
		cost, tokens := o.estimate(items[i].Options)
		o.recordSaved(provider, cost, tokens)
	}
}

package optimizer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hallucifix/go-resilience/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoExecutor(seen *[][]any) BatchExecutor {
	return func(ctx context.Context, requests []any) ([]any, error) {
		*seen = append(*seen, requests)
		out := make([]any, len(requests))
		for i, r := range requests {
			out[i] = fmt.Sprintf("answer:%v", r)
		}
		return out, nil
	}
}

func TestBatchRecombinesInOrder(t *testing.T) {
	o, _ := newTestOptimizer(t)
	o.cache.Set("q2", "cached:q2", cacheSetOptions())

	items := []BatchItem{
		{CacheKey: "q1", Request: "q1", Options: RequestOptions{Cacheable: true, EstimatedCost: 0.1}},
		{CacheKey: "q2", Request: "q2", Options: RequestOptions{Cacheable: true, EstimatedCost: 0.1}},
		{CacheKey: "q3", Request: "q3", Options: RequestOptions{EstimatedCost: 0.1}},
	}
	var seen [][]any
	results, err := o.OptimizeBatchRequest(context.Background(), "openai", items, echoExecutor(&seen))
	require.NoError(t, err)
	assert.Equal(t, []any{"answer:q1", "cached:q2", "answer:q3"}, results)
	require.Len(t, seen, 1)
	assert.Equal(t, []any{"q1", "q3"}, seen[0])

	assert.True(t, o.cache.Has("q1"))
	assert.False(t, o.cache.Has("q3"))

	stats := o.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.RequestsSaved)
	assert.Equal(t, int64(2), stats.Providers["openai"].RequestCount)
	assert.InDelta(t, 0.2, stats.Providers["openai"].CumulativeCost, 1e-9)
	assert.Equal(t, 1, stats.RateLimits["openai"].RequestsLastMinute)
	assert.Equal(t, int64(1), stats.Batches)
}

func TestBatchFullyCachedSkipsExecutor(t *testing.T) {
	o, _ := newTestOptimizer(t, WithProvider("openai", ProviderLimits{RequestsPerMinute: 1}))
	o.cache.Set("a", 1, cacheSetOptions())
	o.cache.Set("b", 2, cacheSetOptions())
	items := []BatchItem{
		{CacheKey: "a", Options: RequestOptions{Cacheable: true}},
		{CacheKey: "b", Options: RequestOptions{Cacheable: true}},
	}
	var seen [][]any
	results, err := o.OptimizeBatchRequest(context.Background(), "openai", items, echoExecutor(&seen))
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, results)
	assert.Empty(t, seen)
	assert.Equal(t, 0, o.Stats().RateLimits["openai"].RequestsLastMinute)
}

func TestBatchSingleRateLimitCheck(t *testing.T) {
	o, _ := newTestOptimizer(t, WithProvider("openai", ProviderLimits{RequestsPerMinute: 1}))
	items := []BatchItem{{Request: 1}, {Request: 2}, {Request: 3}}
	var seen [][]any
	_, err := o.OptimizeBatchRequest(context.Background(), "openai", items, echoExecutor(&seen))
	require.NoError(t, err)

	_, err = o.OptimizeBatchRequest(context.Background(), "openai", items, echoExecutor(&seen))
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Len(t, seen, 1)
}

func TestBatchExecutorErrors(t *testing.T) {
	o, _ := newTestOptimizer(t)
	boom := errors.New("batch failed")
	_, err := o.OptimizeBatchRequest(context.Background(), "openai", []BatchItem{{Request: 1}}, func(ctx context.Context, requests []any) ([]any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = o.OptimizeBatchRequest(context.Background(), "openai", []BatchItem{{Request: 1}, {Request: 2}}, func(ctx context.Context, requests []any) ([]any, error) {
		return []any{"only one"}, nil
	})
	assert.ErrorIs(t, err, ErrBatchSize)
	assert.Equal(t, int64(2), o.Stats().Providers["openai"].ErrorCount)
}

func TestRejectedBatchSavesNothing(t *testing.T) {
	o, _ := newTestOptimizer(t, WithProvider("openai", ProviderLimits{RequestsPerMinute: 1}))
	var calls int32
	_, err := o.OptimizeRequest(context.Background(), "openai", "warm", countingWork(&calls, 1), RequestOptions{})
	require.NoError(t, err)
	o.cache.Set("q1", "cached:q1", cacheSetOptions())

	items := []BatchItem{
		{CacheKey: "q1", Request: "q1", Options: RequestOptions{Cacheable: true, EstimatedCost: 2}},
		{CacheKey: "q2", Request: "q2", Options: RequestOptions{Cacheable: true, EstimatedCost: 2}},
	}
	var seen [][]any
	results, err := o.OptimizeBatchRequest(context.Background(), "openai", items, echoExecutor(&seen))
	assert.ErrorIs(t, err, apierror.ErrRateLimited)
	assert.Nil(t, results)
	assert.Empty(t, seen)

	stats := o.Stats()
	assert.Zero(t, stats.RequestsSaved)
	assert.Zero(t, stats.CostSaved)
	assert.Zero(t, stats.Providers["openai"].CostSaved)
}

func TestCostRejectedBatchSavesNothing(t *testing.T) {
	o, _ := newTestOptimizer(t, WithCostEnforcement(true), WithProvider("openai", ProviderLimits{MaxCostPerRequest: 1}))
	o.cache.Set("q1", "cached:q1", cacheSetOptions())
	items := []BatchItem{
		{CacheKey: "q1", Options: RequestOptions{Cacheable: true, EstimatedCost: 0.5}},
		{CacheKey: "q2", Options: RequestOptions{Cacheable: true, EstimatedCost: 5}},
	}
	var seen [][]any
	_, err := o.OptimizeBatchRequest(context.Background(), "openai", items, echoExecutor(&seen))
	assert.ErrorIs(t, err, apierror.ErrCostLimitExceeded)
	assert.Zero(t, o.Stats().RequestsSaved)
}

package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecCacheMiss(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	invoked := false
	found, val, err := Exec(ctx, c, "key", SetOptions{}, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh-value", val)
	assert.True(t, invoked)

	cachedFound, cached, err := Get[string](c, "key")
	assert.NoError(t, err)
	assert.True(t, cachedFound)
	assert.Equal(t, "fresh-value", cached)
}

func TestExecCacheHit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	c.Set("key", "cached-value", SetOptions{})

	invoked := false
	found, val, err := Exec(ctx, c, "key", SetOptions{}, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cached-value", val)
	assert.False(t, invoked)
}

func TestExecInvokerError(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	expectedErr := fmt.Errorf("invoke failed")
	found, val, err := Exec(ctx, c, "key", SetOptions{}, func(ctx context.Context) (string, bool, error) {
		return "", false, expectedErr
	})
	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, found)
	assert.Equal(t, "", val)
	assert.False(t, c.Has("key"))
}

func TestExecNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	found, _, err := Exec(ctx, c, "key", SetOptions{}, func(ctx context.Context) (int, bool, error) {
		return 0, false, nil
	})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.False(t, c.Has("key"))
}

func TestGetTypeMismatch(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set("key", 42, SetOptions{})
	found, val, err := Get[string](c, "key")
	assert.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, "", val)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("openai", "gpt-4o", "hi"), Key("openai", "gpt-4o", "hi"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.NotEmpty(t, Key())
}

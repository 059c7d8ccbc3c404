package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type completion struct {
	Model  string
	Text   string
	Tokens int
}

func newTestCache(t *testing.T, clk clock.Clock) *cache.ResponseCache {
	t.Helper()
	c := cache.New(context.Background(), cache.WithClock(clk), cache.WithSweepInterval(time.Hour))
	t.Cleanup(func() { c.Close() })
	return c
}

// exerciseStore runs the behavior every Store must share.
func exerciseStore(t *testing.T, s Store, clk *clock.Fake) {
	ctx := context.Background()

	src := newTestCache(t, clk)
	src.Set("a", completion{Model: "gpt", Text: "hello", Tokens: 3}, cache.SetOptions{Tags: []string{"openai"}})
	src.Set("b", "plain", cache.SetOptions{TTL: time.Hour})

	n, err := SaveCache(ctx, s, "nightly", src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := newTestCache(t, clk)
	restored, found, err := RestoreCache(ctx, s, "nightly", dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, restored)

	ok, got, err := cache.Get[completion](dst, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, completion{Model: "gpt", Text: "hello", Tokens: 3}, got)
	assert.Equal(t, 1, dst.InvalidateByTags("openai"))

	_, found, err = RestoreCache(ctx, s, "missing", dst)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "empty", nil))
	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "empty", infos[0].Name)
	assert.Equal(t, 0, infos[0].Entries)
	assert.Equal(t, "nightly", infos[1].Name)
	assert.Equal(t, 2, infos[1].Entries)
	assert.Greater(t, infos[1].Size, int64(0))
	assert.True(t, epoch.Equal(infos[1].SavedAt))

	deleted, err := s.Delete(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.ErrorIs(t, s.Save(ctx, "", nil), ErrEmptyName)
	assert.NoError(t, s.Close())
}

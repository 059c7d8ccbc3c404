package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, opts ...Option) (*ResponseCache, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	opts = append([]Option{WithClock(clk), WithSweepInterval(time.Hour)}, opts...)
	c := New(context.Background(), opts...)
	t.Cleanup(func() { c.Close() })
	return c, clk
}

func TestSetGet(t *testing.T) {
	c, clk := newTestCache(t)

	val, found := c.Get("test")
	assert.False(t, found)
	assert.Nil(t, val)

	c.Set("test", "value", SetOptions{TTL: 10 * time.Second})
	val, found = c.Get("test")
	assert.True(t, found)
	assert.Equal(t, "value", val)
	assert.True(t, c.Has("test"))

	clk.Advance(10 * time.Second)
	assert.True(t, c.Has("test"), "entry is visible while age equals ttl")

	clk.Advance(time.Millisecond)
	val, found = c.Get("test")
	assert.False(t, found)
	assert.Nil(t, val)
	assert.False(t, c.Has("test"))
	assert.Equal(t, 0, c.Len())
}

func TestSetDefaultTTL(t *testing.T) {
	c, clk := newTestCache(t, WithDefaultTTL(time.Minute))
	c.Set("k", 1, SetOptions{})
	clk.Advance(59 * time.Second)
	assert.True(t, c.Has("k"))
	clk.Advance(2 * time.Second)
	assert.False(t, c.Has("k"))
}

func TestGetUpdatesAccessMetadata(t *testing.T) {
	c, clk := newTestCache(t)
	c.Set("k", "v", SetOptions{})
	clk.Advance(time.Second)
	c.Get("k")
	c.Get("k")

	entries := c.Export()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Entry.AccessCount)
	assert.True(t, epoch.Add(time.Second).Equal(entries[0].Entry.LastAccessedAt))
	assert.True(t, epoch.Equal(entries[0].Entry.Timestamp))
}

func TestHasDoesNotTouchAccess(t *testing.T) {
	c, clk := newTestCache(t)
	c.Set("k", "v", SetOptions{})
	clk.Advance(time.Second)
	assert.True(t, c.Has("k"))
	entries := c.Export()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].Entry.AccessCount)
	assert.True(t, epoch.Equal(entries[0].Entry.LastAccessedAt))
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set("a", 1, SetOptions{})
	c.Set("b", 2, SetOptions{})
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.False(t, c.Has("a"))
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().TotalSize)
}

func TestEvictionLeastRecentlyUsed(t *testing.T) {
	// a one-letter key plus a ten-character string encodes to 12 bytes
	c, clk := newTestCache(t, WithMaxSize(36))
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, "0123456789", SetOptions{})
		clk.Advance(time.Second)
	}
	assert.Equal(t, int64(36), c.Stats().TotalSize)

	_, found := c.Get("a")
	require.True(t, found)
	clk.Advance(time.Second)

	c.Set("d", "0123456789", SetOptions{})
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))

	clk.Advance(time.Second)
	c.Set("e", "0123456789", SetOptions{})
	assert.False(t, c.Has("c"))
	assert.True(t, c.Has("a"))

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.EvictionCount)
	assert.Equal(t, 3, stats.EntryCount)
	assert.LessOrEqual(t, stats.TotalSize, int64(36))
}

func TestEvictionTieBreaksOnInsertionOrder(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(2))
	c.Set("first", 1, SetOptions{})
	c.Set("second", 2, SetOptions{})
	c.Set("third", 3, SetOptions{})
	assert.False(t, c.Has("first"))
	assert.True(t, c.Has("second"))
	assert.True(t, c.Has("third"))
}

func TestReplaceDoesNotEvictItself(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(1))
	c.Set("only", 1, SetOptions{})
	c.Set("only", 2, SetOptions{})
	val, found := c.Get("only")
	assert.True(t, found)
	assert.Equal(t, 2, val)
	assert.Equal(t, int64(0), c.Stats().EvictionCount)
}

func TestOversizedEntryIsStillStored(t *testing.T) {
	log := logger.NewTestLogger()
	c, _ := newTestCache(t, WithMaxSize(8), WithLogger(log))
	c.Set("small", 1, SetOptions{})
	c.Set("big", "this value is far larger than eight bytes", SetOptions{})
	assert.False(t, c.Has("small"))
	val, found := c.Get("big")
	assert.True(t, found)
	assert.Equal(t, "this value is far larger than eight bytes", val)
	assert.True(t, log.Contains("WARNING", "exceeds the cache limit"))
}

func TestUnencodableValueUsesFallbackSize(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NotPanics(t, func() {
		c.Set("ch", make(chan int), SetOptions{})
	})
	assert.True(t, c.Has("ch"))
	assert.Equal(t, FallbackEntrySize, c.Stats().TotalSize)
}

func TestInvalidateByTags(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set("a", 1, SetOptions{Tags: []string{"openai", "chat"}})
	c.Set("b", 2, SetOptions{Tags: []string{"openai"}})
	c.Set("c", 3, SetOptions{Tags: []string{"anthropic"}})
	c.Set("d", 4, SetOptions{})

	assert.Equal(t, 2, c.InvalidateByTags("openai"))
	assert.False(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))

	assert.Equal(t, 0, c.InvalidateByTags("openai"))
	assert.Equal(t, 0, c.InvalidateByTags())
	assert.Equal(t, 1, c.InvalidateByTags("anthropic", "missing"))
}

func TestStats(t *testing.T) {
	c, clk := newTestCache(t, WithMaxSize(1000))
	c.Set("a", "x", SetOptions{})
	clk.Advance(time.Minute)
	c.Set("b", "y", SetOptions{})
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 75.0, stats.HitRate, 0.001)
	assert.InDelta(t, 25.0, stats.MissRate, 0.001)
	assert.True(t, epoch.Equal(stats.OldestEntry))
	assert.True(t, epoch.Add(time.Minute).Equal(stats.NewestEntry))
	assert.Equal(t, int64(1000), stats.Memory.Limit)
	assert.Equal(t, stats.TotalSize, stats.Memory.Used)
	assert.InDelta(t, float64(stats.TotalSize)/10, stats.Memory.Percent, 0.001)

	c.ResetStats()
	stats = c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, 2, stats.EntryCount)
}

func TestPurgeExpired(t *testing.T) {
	c, clk := newTestCache(t)
	c.Set("short", 1, SetOptions{TTL: time.Second})
	c.Set("long", 2, SetOptions{TTL: time.Hour})
	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, c.purgeExpired())
	assert.Equal(t, 1, c.Len())
}

func TestBackgroundSweep(t *testing.T) {
	c := New(context.Background(), WithDefaultTTL(20*time.Millisecond), WithSweepInterval(10*time.Millisecond))
	defer c.Close()
	c.Set("test", "value", SetOptions{})
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(ctx)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	cancel()
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(50))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (worker*200+j)%80)
				c.Set(key, j, SetOptions{Tags: []string{fmt.Sprintf("w%d", worker)}})
				c.Get(key)
				if j%50 == 0 {
					c.InvalidateByTags(fmt.Sprintf("w%d", worker))
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

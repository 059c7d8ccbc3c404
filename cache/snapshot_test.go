package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completion struct {
	Model  string `msgpack:"model"`
	Text   string `msgpack:"text"`
	Tokens int    `msgpack:"tokens"`
}

func TestExportImportRoundTrip(t *testing.T) {
	src, clk := newTestCache(t)
	src.Set("a", completion{Model: "gpt-4o", Text: "hello", Tokens: 12}, SetOptions{TTL: time.Hour, Tags: []string{"openai"}})
	clk.Advance(time.Second)
	src.Set("b", "plain", SetOptions{TTL: time.Hour})
	src.Get("a")

	data, err := MarshalSnapshot(src.Export())
	require.NoError(t, err)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	dst, _ := newTestCache(t)
	dst.Set("stale", 1, SetOptions{})
	assert.Equal(t, 2, dst.Import(decoded))
	assert.False(t, dst.Has("stale"))

	found, got, err := Get[completion](dst, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, completion{Model: "gpt-4o", Text: "hello", Tokens: 12}, got)

	found, s, err := Get[string](dst, "b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "plain", s)

	assert.Equal(t, 1, dst.InvalidateByTags("openai"))
}

func TestImportPreservesTimestampsAndDropsExpired(t *testing.T) {
	c, _ := newTestCache(t)
	snapshot := []SnapshotEntry{
		{Key: "live", Entry: Entry{Data: "x", Timestamp: epoch.Add(-time.Minute), TTL: time.Hour, AccessCount: 4}},
		{Key: "dead", Entry: Entry{Data: "y", Timestamp: epoch.Add(-2 * time.Hour), TTL: time.Hour}},
		{Key: "", Entry: Entry{Data: "z", Timestamp: epoch, TTL: time.Hour}},
	}
	assert.Equal(t, 1, c.Import(snapshot))
	assert.False(t, c.Has("dead"))

	exported := c.Export()
	require.Len(t, exported, 1)
	e := exported[0].Entry
	assert.True(t, epoch.Add(-time.Minute).Equal(e.Timestamp))
	assert.True(t, epoch.Add(-time.Minute).Equal(e.LastAccessedAt))
	assert.Equal(t, int64(4), e.AccessCount)
	assert.Positive(t, e.SizeBytes)
}

func TestImportEnforcesLimits(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(2))
	var snapshot []SnapshotEntry
	for i, k := range []string{"a", "b", "c"} {
		ts := epoch.Add(time.Duration(i) * time.Second)
		snapshot = append(snapshot, SnapshotEntry{Key: k, Entry: Entry{Data: i, Timestamp: ts, LastAccessedAt: ts, TTL: time.Hour}})
	}
	assert.Equal(t, 2, c.Import(snapshot))
	assert.False(t, c.Has("a"))
}

func TestUnmarshalSnapshotRejectsGarbage(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte("not msgpack"))
	assert.Error(t, err)
}

func TestMarshalSnapshotRejectsUnencodable(t *testing.T) {
	_, err := MarshalSnapshot([]SnapshotEntry{{Key: "ch", Entry: Entry{Data: make(chan int)}}})
	assert.Error(t, err)
}

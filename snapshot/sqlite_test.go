package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	clk := clock.NewFake(epoch)
	s, err := NewSQLite(context.Background(), "", WithClock(clk))
	require.NoError(t, err)
	exerciseStore(t, s, clk)
}

func TestSQLiteFileBased(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	entries := []cache.SnapshotEntry{{Key: "k", Entry: cache.Entry{Data: "v", Timestamp: time.Now(), TTL: time.Hour}}}

	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "warm", entries))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, found, err := reopened.Load(ctx, "warm")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	assert.Equal(t, "k", got[0].Key)
}

func TestSQLiteRetention(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(epoch)
	s, err := NewSQLite(ctx, "", WithClock(clk), WithRetention(time.Hour), WithPruneInterval(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, "old", nil))
	clk.Advance(30 * time.Minute)
	require.NoError(t, s.Save(ctx, "fresh", nil))
	clk.Advance(45 * time.Minute)

	_, found, err := s.Load(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = s.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, found)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "fresh", infos[0].Name)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, "")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots (name, data, entries, saved_at) VALUES ('bad', x'c1', 0, 0)`)
	require.NoError(t, err)
	_, _, err = s.Load(ctx, "bad")
	assert.Error(t, err)
}

func TestSQLiteCloseIsIdempotent(t *testing.T) {
	s, err := NewSQLite(context.Background(), "", WithRetention(time.Minute))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

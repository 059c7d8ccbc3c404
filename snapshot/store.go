// Package snapshot persists ResponseCache snapshots so a process can restore
// its cache after a restart. Stores are only read and written on demand;
// nothing consults them while requests are served.
package snapshot

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/cache"
)

// Info describes a stored snapshot.
type Info struct {
	Name    string
	Entries int
	Size    int64
	SavedAt time.Time
}

// Store saves and loads named snapshots.
type Store interface {
	// Save replaces the snapshot called name.
	Save(ctx context.Context, name string, entries []cache.SnapshotEntry) error
	// Load returns the snapshot called name. found is false when it does not
	// exist or has outlived the retention.
	Load(ctx context.Context, name string) (entries []cache.SnapshotEntry, found bool, err error)
	// Delete removes the snapshot called name.
	Delete(ctx context.Context, name string) (bool, error)
	// List describes every stored snapshot, ordered by name.
	List(ctx context.Context) ([]Info, error)
	Close() error
}

// ErrEmptyName is returned when a snapshot name is empty.
var ErrEmptyName = errors.New("snapshot name is required")

// SaveCache exports c and saves it under name. It returns the number of
// entries written.
func SaveCache(ctx context.Context, s Store, name string, c *cache.ResponseCache) (int, error) {
	entries := c.Export()
	if err := s.Save(ctx, name, entries); err != nil {
		return 0, errors.Wrapf(err, "saving snapshot %s", name)
	}
	return len(entries), nil
}

// RestoreCache loads name into c, replacing its content. It returns the
// number of entries the cache accepted.
func RestoreCache(ctx context.Context, s Store, name string, c *cache.ResponseCache) (int, bool, error) {
	entries, found, err := s.Load(ctx, name)
	if err != nil {
		return 0, false, errors.Wrapf(err, "loading snapshot %s", name)
	}
	if !found {
		return 0, false, nil
	}
	return c.Import(entries), true, nil
}

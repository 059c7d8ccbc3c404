package snapshot

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/cache"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	cfg       config
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens the database at dbPath. If dbPath is empty or ":memory:",
// an in-memory database is used. With a retention, expired snapshots are
// pruned in the background until Close.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite")
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			entries INTEGER NOT NULL,
			saved_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_saved_at ON snapshots(saved_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "initializing sqlite schema")
		}
	}

	childCtx, cancel := context.WithCancel(ctx)
	s := &SQLiteStore{
		db:     db,
		cfg:    applyOptions(opts),
		ctx:    childCtx,
		cancel: cancel,
	}
	if s.cfg.retention > 0 {
		s.waitGroup.Add(1)
		go s.run()
	}
	return s, nil
}

func (s *SQLiteStore) Save(ctx context.Context, name string, entries []cache.SnapshotEntry) error {
	if name == "" {
		return ErrEmptyName
	}
	data, err := cache.MarshalSnapshot(entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (name, data, entries, saved_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, entries = excluded.entries, saved_at = excluded.saved_at`,
		name, data, len(entries), s.cfg.clock.Now().UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, "writing snapshot %s", name)
	}
	s.cfg.log.Debug("saved snapshot %s with %d entries", name, len(entries))
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, name string) ([]cache.SnapshotEntry, bool, error) {
	var data []byte
	var savedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT data, saved_at FROM snapshots WHERE name = ?`, name).Scan(&data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading snapshot %s", name)
	}
	if s.expired(savedAt) {
		return nil, false, nil
	}
	entries, err := cache.UnmarshalSnapshot(data)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return false, errors.Wrapf(err, "deleting snapshot %s", name)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, entries, length(data), saved_at FROM snapshots ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "listing snapshots")
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var savedAt int64
		if err := rows.Scan(&info.Name, &info.Entries, &info.Size, &savedAt); err != nil {
			return nil, err
		}
		if s.expired(savedAt) {
			continue
		}
		info.SavedAt = time.Unix(0, savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) expired(savedAt int64) bool {
	if s.cfg.retention <= 0 {
		return false
	}
	return s.cfg.clock.Now().Sub(time.Unix(0, savedAt)) > s.cfg.retention
}

// Prune deletes snapshots past their retention and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.cfg.retention <= 0 {
		return 0, nil
	}
	cutoff := s.cfg.clock.Now().Add(-s.cfg.retention).UnixNano()
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "pruning snapshots")
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *SQLiteStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Prune(s.ctx); err != nil {
				s.cfg.log.Error("error pruning snapshots: %s", err)
			} else if n > 0 {
				s.cfg.log.Debug("pruned %d snapshots", n)
			}
		}
	}
}

package snapshot

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/cache"
	"github.com/redis/go-redis/v9"
)

const (
	fieldData    = "d"
	fieldEntries = "n"
	fieldSavedAt = "t"
	fieldSize    = "s"
)

// RedisStore keeps each snapshot in a Redis hash. With a retention the
// hash expires on its own.
type RedisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*RedisStore)(nil)

// NewRedis returns a Store backed by client. The caller owns the client's
// lifecycle; Close does not close it.
func NewRedis(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, cfg: applyOptions(opts)}
}

func (s *RedisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *RedisStore) key(name string) string {
	if s.cfg.prefix == "" {
		return name
	}
	return s.cfg.prefix + ":" + name
}

func (s *RedisStore) name(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.cfg.prefix+":")
}

func (s *RedisStore) Save(ctx context.Context, name string, entries []cache.SnapshotEntry) error {
	if name == "" {
		return ErrEmptyName
	}
	data, err := cache.MarshalSnapshot(entries)
	if err != nil {
		return err
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	k := s.key(name)
	pipe := s.client.TxPipeline()
	pipe.Del(qctx, k)
	pipe.HSet(qctx, k, fieldData, data, fieldEntries, len(entries), fieldSavedAt, s.cfg.clock.Now().UnixNano(), fieldSize, len(data))
	if s.cfg.retention > 0 {
		pipe.Expire(qctx, k, s.cfg.retention)
	}
	if _, err := pipe.Exec(qctx); err != nil {
		return errors.Wrapf(err, "writing snapshot %s", name)
	}
	s.cfg.log.Debug("saved snapshot %s with %d entries", name, len(entries))
	return nil
}

func (s *RedisStore) Load(ctx context.Context, name string) ([]cache.SnapshotEntry, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	data, err := s.client.HGet(qctx, s.key(name), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading snapshot %s", name)
	}
	entries, err := cache.UnmarshalSnapshot(data)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	n, err := s.client.Del(qctx, s.key(name)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "deleting snapshot %s", name)
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Info, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var out []Info
	iter := s.client.Scan(qctx, 0, s.key("*"), 100).Iterator()
	for iter.Next(qctx) {
		k := iter.Val()
		vals, err := s.client.HMGet(qctx, k, fieldEntries, fieldSavedAt, fieldSize).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "reading snapshot %s", k)
		}
		info := Info{Name: s.name(k)}
		info.Entries = int(parseInt(vals[0]))
		info.SavedAt = time.Unix(0, parseInt(vals[1]))
		info.Size = parseInt(vals[2])
		out = append(out, info)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "listing snapshots")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (s *RedisStore) Close() error {
	return nil
}

func parseInt(v interface{}) int64 {
	str, _ := v.(string)
	n, _ := strconv.ParseInt(str, 10, 64)
	return n
}

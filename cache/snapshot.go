package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotVersion is written into every encoded snapshot.
const SnapshotVersion = 1

// SnapshotEntry pairs a key with a copy of its entry.
type SnapshotEntry struct {
	Key   string
	Entry Entry
}

// Export returns a copy of every live entry. Data values are shared with the
// cache, not deep-copied.
func (c *ResponseCache) Export() []SnapshotEntry {
	now := c.cfg.clock.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]SnapshotEntry, 0, len(c.entries))
	for key, e := range c.entries {
		if e.Expired(now) {
			continue
		}
		out = append(out, SnapshotEntry{Key: key, Entry: e.clone()})
	}
	return out
}

// Import replaces the whole cache content with snapshot. Expired entries are
// dropped silently and the ceilings are enforced as if each entry had been
// Set in order. It returns the number of entries restored.
func (c *ResponseCache) Import(snapshot []SnapshotEntry) int {
	now := c.cfg.clock.Now()
	live := make([]*Entry, 0, len(snapshot))
	for _, s := range snapshot {
		if s.Key == "" || s.Entry.Expired(now) {
			continue
		}
		e := s.Entry.clone()
		if e.SizeBytes <= 0 {
			e.SizeBytes = c.estimateSize(s.Key, e.Data)
		}
		if e.LastAccessedAt.IsZero() {
			e.LastAccessedAt = e.Timestamp
		}
		e.Tags = dedupeTags(e.Tags)
		e.key = s.Key
		live = append(live, &e)
	}
	c.mutex.Lock()
	c.entries = make(map[string]*Entry, len(live))
	c.totalSize = 0
	for _, e := range live {
		c.insert(e.key, e)
	}
	n := len(c.entries)
	c.mutex.Unlock()
	c.cfg.log.Debug("imported %d of %d snapshot entries", n, len(snapshot))
	return n
}

type wireEntry struct {
	Key     string             `msgpack:"key"`
	Payload msgpack.RawMessage `msgpack:"payload"`
	Entry   Entry              `msgpack:"entry"`
}

type wireSnapshot struct {
	Version int         `msgpack:"version"`
	Entries []wireEntry `msgpack:"entries"`
}

// MarshalSnapshot encodes entries with msgpack. Each payload is encoded
// separately so it can be decoded later into its original type with Get.
func MarshalSnapshot(entries []SnapshotEntry) ([]byte, error) {
	snap := wireSnapshot{Version: SnapshotVersion, Entries: make([]wireEntry, 0, len(entries))}
	for _, s := range entries {
		payload, err := encodePayload(s.Entry.Data)
		if err != nil {
			return nil, fmt.Errorf("cache: failed to encode payload for key %q: %w", s.Key, err)
		}
		snap.Entries = append(snap.Entries, wireEntry{Key: s.Key, Payload: payload, Entry: s.Entry})
	}
	return msgpack.Marshal(&snap)
}

// UnmarshalSnapshot decodes data produced by MarshalSnapshot. Payloads are
// returned as msgpack.RawMessage.
func UnmarshalSnapshot(data []byte) ([]SnapshotEntry, error) {
	var snap wireSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("cache: failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("cache: unsupported snapshot version %d", snap.Version)
	}
	out := make([]SnapshotEntry, 0, len(snap.Entries))
	for _, w := range snap.Entries {
		e := w.Entry
		e.Data = w.Payload
		out = append(out, SnapshotEntry{Key: w.Key, Entry: e})
	}
	return out, nil
}

func encodePayload(v any) (msgpack.RawMessage, error) {
	if raw, ok := v.(msgpack.RawMessage); ok {
		return raw, nil
	}
	return msgpack.Marshal(v)
}

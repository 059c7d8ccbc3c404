package cache

import (
	"slices"
	"time"
)

// Entry is a cached value and its bookkeeping.
type Entry struct {
	Data           any           `msgpack:"-"`
	Timestamp      time.Time     `msgpack:"timestamp"`
	TTL            time.Duration `msgpack:"ttl"`
	AccessCount    int64         `msgpack:"access_count"`
	LastAccessedAt time.Time     `msgpack:"last_accessed_at"`
	Tags           []string      `msgpack:"tags,omitempty"`
	SizeBytes      int64         `msgpack:"size_bytes"`

	key string
	seq uint64
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// HasTag reports whether the entry carries tag.
func (e *Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

func (e *Entry) hasAnyTag(tags map[string]struct{}) bool {
	for _, tag := range e.Tags {
		if _, ok := tags[tag]; ok {
			return true
		}
	}
	return false
}

func (e *Entry) clone() Entry {
	out := *e
	out.Tags = slices.Clone(e.Tags)
	out.key = ""
	out.seq = 0
	return out
}

// dedupeTags drops empty and repeated tags, keeping first-seen order.
func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

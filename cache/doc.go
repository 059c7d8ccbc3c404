// Package cache provides ResponseCache, an in-process response cache with
// per-entry TTL, tag-based bulk invalidation and size-aware LRU eviction.
//
// # Entries
//
// Every value is stored in an [Entry] together with its creation time, TTL,
// access metadata, tags and an estimated size. An entry is visible to [ResponseCache.Get]
// only while now - Timestamp <= TTL. Expired entries are removed lazily when
// they are read and periodically by a background sweep started by [New].
//
// # Eviction
//
// The cache enforces two ceilings: total estimated bytes ([WithMaxSize]) and
// entry count ([WithMaxEntries]). Before an insert, least recently accessed
// entries are evicted until the new entry fits. Ties on access time are
// broken by insertion order. The check, the evictions and the insert happen
// under a single lock, so a Set followed by a Get on the same key always
// observes the value just written.
//
// Sizes are estimated by msgpack-encoding the value. Values that cannot be
// encoded are charged a fixed fallback size.
//
// # Typed helpers
//
// [Get] and [Exec] wrap the untyped API with type assertions. Values restored
// from a snapshot are kept as raw msgpack bytes and decoded on demand:
//
//	found, resp, err := cache.Get[*Completion](c, key)
//
//	found, resp, err := cache.Exec(ctx, c, key, cache.SetOptions{Tags: []string{"openai"}},
//	    func(ctx context.Context) (*Completion, bool, error) {
//	        return client.Complete(ctx, req)
//	    })
//
// # Snapshots
//
// [ResponseCache.Export] and [ResponseCache.Import] move the full content in
// and out of the cache. [MarshalSnapshot] and [UnmarshalSnapshot] encode a
// snapshot for storage; see the snapshot package for durable stores.
package cache

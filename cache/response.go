package cache

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SetOptions controls a single Set call.
type SetOptions struct {
	// TTL overrides the cache's default TTL when positive.
	TTL time.Duration
	// Tags label the entry for InvalidateByTags.
	Tags []string
}

// ResponseCache is a concurrency-safe in-memory cache with TTL, tags and
// size-aware LRU eviction. Use New to construct one and Close to stop its
// background sweep.
type ResponseCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config

	entries   map[string]*Entry
	totalSize int64
	seq       uint64
	hits      int64
	misses    int64
	evictions int64
}

// New returns a ResponseCache and starts its expiry sweep. The sweep stops
// when parent is cancelled or Close is called.
func New(parent context.Context, opts ...Option) *ResponseCache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &ResponseCache{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		entries: make(map[string]*Entry),
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

// Get returns the value stored under key. A hit updates the entry's access
// metadata. An expired entry is removed and reported as a miss.
func (c *ResponseCache) Get(key string) (any, bool) {
	now := c.cfg.clock.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.Expired(now) {
		c.remove(e)
		c.misses++
		return nil, false
	}
	e.AccessCount++
	e.LastAccessedAt = now
	c.hits++
	return e.Data, true
}

// Set stores value under key, evicting least recently used entries first if
// the size or count ceiling would otherwise be exceeded.
func (c *ResponseCache) Set(key string, value any, opts SetOptions) {
	size := c.estimateSize(key, value)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	now := c.cfg.clock.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.insert(key, &Entry{
		Data:           value,
		Timestamp:      now,
		TTL:            ttl,
		LastAccessedAt: now,
		Tags:           dedupeTags(opts.Tags),
		SizeBytes:      size,
	})
}

// insert must be called with the mutex held.
func (c *ResponseCache) insert(key string, e *Entry) {
	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}
	c.ensureSpace(e.SizeBytes)
	c.seq++
	e.key = key
	e.seq = c.seq
	c.entries[key] = e
	c.totalSize += e.SizeBytes
}

// ensureSpace evicts least recently accessed entries until an entry of size
// bytes fits under both ceilings. It must be called with the mutex held.
func (c *ResponseCache) ensureSpace(size int64) {
	if c.fits(size) {
		return
	}
	candidates := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	slices.SortFunc(candidates, func(a, b *Entry) int {
		if r := a.LastAccessedAt.Compare(b.LastAccessedAt); r != 0 {
			return r
		}
		return cmp.Compare(a.seq, b.seq)
	})
	var evicted int
	for _, e := range candidates {
		if c.fits(size) {
			break
		}
		c.remove(e)
		c.evictions++
		evicted++
	}
	if evicted > 0 {
		c.cfg.log.Debug("evicted %d entries to admit %d bytes", evicted, size)
	}
	if c.cfg.maxSize > 0 && size > c.cfg.maxSize {
		c.cfg.log.Warn("entry of %d bytes exceeds the cache limit of %d bytes", size, c.cfg.maxSize)
	}
}

func (c *ResponseCache) fits(size int64) bool {
	if c.cfg.maxEntries > 0 && len(c.entries)+1 > c.cfg.maxEntries {
		return false
	}
	if c.cfg.maxSize > 0 && len(c.entries) > 0 && c.totalSize+size > c.cfg.maxSize {
		return false
	}
	return true
}

// remove must be called with the mutex held.
func (c *ResponseCache) remove(e *Entry) {
	delete(c.entries, e.key)
	c.totalSize -= e.SizeBytes
}

// estimateSize never fails. Values msgpack cannot encode are charged
// FallbackEntrySize.
func (c *ResponseCache) estimateSize(key string, value any) (size int64) {
	defer func() {
		if r := recover(); r != nil {
			size = FallbackEntrySize
		}
	}()
	if raw, ok := value.(msgpack.RawMessage); ok {
		return int64(len(raw) + len(key))
	}
	data, err := msgpack.Marshal(value)
	if err != nil {
		return FallbackEntrySize
	}
	return int64(len(data) + len(key))
}

// Delete removes key and reports whether it was present.
func (c *ResponseCache) Delete(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[key]
	if ok {
		c.remove(e)
	}
	return ok
}

// Has reports whether a live entry exists for key without touching its
// access metadata.
func (c *ResponseCache) Has(key string) bool {
	now := c.cfg.clock.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.Expired(now) {
		c.remove(e)
		return false
	}
	return true
}

// Len returns the number of stored entries, including any not yet swept.
func (c *ResponseCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Clear removes every entry. Statistics are kept.
func (c *ResponseCache) Clear() {
	c.mutex.Lock()
	c.entries = make(map[string]*Entry)
	c.totalSize = 0
	c.mutex.Unlock()
}

// InvalidateByTags removes every entry carrying at least one of tags and
// returns how many were removed.
func (c *ResponseCache) InvalidateByTags(tags ...string) int {
	if len(tags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	c.mutex.Lock()
	var removed int
	for _, e := range c.entries {
		if e.hasAnyTag(set) {
			c.remove(e)
			removed++
		}
	}
	c.mutex.Unlock()
	if removed > 0 {
		c.cfg.log.Debug("invalidated %d entries for tags %v", removed, tags)
	}
	return removed
}

// purgeExpired removes every expired entry and returns the count.
func (c *ResponseCache) purgeExpired() int {
	now := c.cfg.clock.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var purged int
	for _, e := range c.entries {
		if e.Expired(now) {
			c.remove(e)
			purged++
		}
	}
	return purged
}

// Close stops the background sweep. It is safe to call more than once.
func (c *ResponseCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *ResponseCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.purgeExpired(); n > 0 {
				c.cfg.log.Debug("swept %d expired entries", n)
			}
		}
	}
}

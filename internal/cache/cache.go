// Package cache implements the Chunk Cache: an in-process LRU+TTL cache
// fronting the Catalog Store so repeated retrieval of the same chunk doesn't
// round-trip to Postgres. It is grounded on
// original_source/src/backend/src/core/cache.py (CacheEntry/Cache,
// DEFAULT_CACHE_SIZE, DEFAULT_TTL_SECONDS, CLEANUP_INTERVAL,
// MAX_MEMORY_PERCENT, the background cleanup loop, and eviction by oldest
// last-accessed time), carried into Go using container/list for the LRU
// order the way the teacher's in-memory stores (internal/persistence/
// databases/memory_vector.go) keep auxiliary indexes alongside a map.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/intelligencedev/docmemory/internal/logging"
	"github.com/intelligencedev/docmemory/internal/obs"
)

// Defaults mirror cache.py's module constants.
const (
	DefaultMaxSize         = 1000
	DefaultTTL             = 3600 * time.Second
	DefaultCleanupInterval = 300 * time.Second
	DefaultMemoryThreshold = 0.75
)

// Stats is a point-in-time snapshot of cache counters, matching the fields
// get_statistics returns in the original implementation.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Skipped     int64
	Size        int
	MemoryBytes int64
}

type entry struct {
	key          string
	value        any
	sizeBytes    int64
	expiresAt    time.Time
	lastAccessed time.Time
	accessCount  int64
}

// Cache is a bounded, TTL-expiring, LRU-evicting cache. A zero Cache is not
// usable; construct with New.
type Cache struct {
	mu sync.Mutex

	maxSize         int
	defaultTTL      time.Duration
	memoryBudget    int64
	memoryThreshold float64

	items map[string]*list.Element // value *entry
	order *list.List               // front = most recently used

	memoryBytes int64
	stats       Stats

	log     logging.Logger
	metrics obs.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Cache at construction time.
type Option func(*Cache)

func WithLogger(l logging.Logger) Option    { return func(c *Cache) { c.log = l } }
func WithMetrics(m obs.Metrics) Option       { return func(c *Cache) { c.metrics = m } }
func WithMaxSize(n int) Option               { return func(c *Cache) { c.maxSize = n } }
func WithDefaultTTL(d time.Duration) Option  { return func(c *Cache) { c.defaultTTL = d } }
func WithMemoryBudget(bytes int64) Option    { return func(c *Cache) { c.memoryBudget = bytes } }
func WithMemoryThreshold(t float64) Option   { return func(c *Cache) { c.memoryThreshold = t } }

// New constructs a Cache and starts its background sweep loop. Call Close to
// stop the loop.
func New(cleanupInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		maxSize:         DefaultMaxSize,
		defaultTTL:      DefaultTTL,
		memoryThreshold: DefaultMemoryThreshold,
		items:           make(map[string]*list.Element),
		order:           list.New(),
		log:             logging.Noop{},
		metrics:         obs.NoopMetrics{},
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	go c.cleanupLoop(cleanupInterval)
	return c
}

// Get returns the cached value for key, reporting a miss if it is absent or
// expired. Expired entries are evicted lazily on lookup in addition to the
// background sweep.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.metrics.IncCounter("chunk_cache_miss", nil)
		return nil, false
	}
	e := el.Value.(*entry)
	if c.isExpired(e) {
		c.removeElement(el)
		c.stats.Misses++
		c.stats.Expirations++
		c.metrics.IncCounter("chunk_cache_miss", nil)
		return nil, false
	}

	e.lastAccessed = time.Now()
	e.accessCount++
	c.order.MoveToFront(el)
	c.stats.Hits++
	c.metrics.IncCounter("chunk_cache_hit", nil)
	return e.value, true
}

// Put stores value under key with the cache's default TTL, estimating its
// size as sizeBytes. It returns skipped=true (not an error) when admitting
// the entry would push estimated memory usage over the configured budget
// times threshold, mirroring the original cache's memory-pressure guard: a
// full cache degrades to "don't cache this one" rather than failing the
// caller.
func (c *Cache) Put(key string, value any, sizeBytes int64) (skipped bool) {
	return c.PutWithTTL(key, value, sizeBytes, c.defaultTTL)
}

// PutWithTTL is Put with an explicit TTL override.
func (c *Cache) PutWithTTL(key string, value any, sizeBytes int64, ttl time.Duration) (skipped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memoryBudget > 0 {
		projected := c.memoryBytes + sizeBytes
		if float64(projected) > float64(c.memoryBudget)*c.memoryThreshold {
			c.stats.Skipped++
			c.metrics.IncCounter("chunk_cache_skip", nil)
			c.log.Warn("chunk cache skipping entry under memory pressure", logging.Fields{
				"key": key, "projected_bytes": projected, "budget_bytes": c.memoryBudget,
			})
			return true
		}
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.memoryBytes -= old.sizeBytes
		old.value = value
		old.sizeBytes = sizeBytes
		old.expiresAt = now.Add(ttl)
		old.lastAccessed = now
		c.memoryBytes += sizeBytes
		c.order.MoveToFront(el)
		return false
	}

	e := &entry{
		key:          key,
		value:        value,
		sizeBytes:    sizeBytes,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		accessCount:  0,
	}
	el := c.order.PushFront(e)
	c.items[key] = el
	c.memoryBytes += sizeBytes

	c.evictOverCapacity()
	return false
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Sweep removes all expired entries immediately, returning how many were
// removed. The background loop calls this every cleanup interval; tests call
// it directly instead of sleeping.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	var next *list.Element
	for el := c.order.Back(); el != nil; el = next {
		next = el.Prev()
		e := el.Value.(*entry)
		if c.isExpired(e) {
			c.removeElement(el)
			c.stats.Expirations++
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	s.MemoryBytes = c.memoryBytes
	return s
}

// Close stops the background sweep loop.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer close(c.doneCh)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			n := c.Sweep()
			if n > 0 {
				c.log.Debug("chunk cache swept expired entries", logging.Fields{"count": n})
			}
		}
	}
}

func (c *Cache) isExpired(e *entry) bool {
	return time.Now().After(e.expiresAt)
}

// evictOverCapacity pops the least-recently-used entries (list back) until
// the cache is back under maxSize, matching _evict_entries' oldest-first
// policy.
func (c *Cache) evictOverCapacity() {
	if c.maxSize <= 0 {
		return
	}
	for len(c.items) > c.maxSize {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
		c.stats.Evictions++
		c.metrics.IncCounter("chunk_cache_eviction", nil)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.memoryBytes -= e.sizeBytes
}

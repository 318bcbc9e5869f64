package memorycache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/asakaida/portaria/pkg/cache"
)

// entryOverhead approximates the bookkeeping bytes held per entry
const entryOverhead = 64

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	size      int64
}

// Cache is a size-bounded LRU cache with per-entry TTL, safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	items     map[string]*list.Element
	evictList *list.List // front = most recently used

	maxSize     int64
	currentSize int64
	now         func() time.Time

	metricsEnabled bool
	metrics        cache.Metrics
}

// Config holds configuration for the memory cache.
type Config struct {
	// MaxSizeBytes bounds the total size of keys and values held.
	// Least recently used entries are evicted past this limit.
	MaxSizeBytes int64

	// EnableMetrics enables collection of hit/miss/eviction counters.
	EnableMetrics bool

	// Now overrides the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

// New creates a new memory cache with the given configuration.
func New(config *Config) *Cache {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		items:          make(map[string]*list.Element),
		evictList:      list.New(),
		maxSize:        config.MaxSizeBytes,
		now:            now,
		metricsEnabled: config.EnableMetrics,
	}
}

// Get retrieves a value from cache. Expired entries are removed on access.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.countMiss()
		return nil, false
	}

	ent := elem.Value.(*entry)
	if !c.now().Before(ent.expiresAt) {
		c.removeElement(elem)
		c.countMiss()
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	if c.metricsEnabled {
		c.metrics.Hits++
	}
	return ent.value, true
}

// Set stores a value in cache with the specified TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(entryOverhead + len(key) + len(value))
	expiresAt := c.now().Add(ttl)

	if elem, exists := c.items[key]; exists {
		ent := elem.Value.(*entry)
		c.currentSize += size - ent.size
		ent.value = value
		ent.expiresAt = expiresAt
		ent.size = size
		c.evictList.MoveToFront(elem)
	} else {
		elem := c.evictList.PushFront(&entry{key: key, value: value, expiresAt: expiresAt, size: size})
		c.items[key] = elem
		c.currentSize += size
		if c.metricsEnabled {
			c.metrics.KeysAdded++
		}
	}

	for c.maxSize > 0 && c.currentSize > c.maxSize && c.evictList.Len() > 1 {
		c.removeElement(c.evictList.Back())
		if c.metricsEnabled {
			c.metrics.KeysEvicted++
		}
	}

	return nil
}

// Delete removes a value from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all entries from cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.currentSize = 0
	return nil
}

// Close is a no-op for the memory cache.
func (c *Cache) Close() error {
	return nil
}

// Metrics returns a snapshot of the cache statistics.
func (c *Cache) Metrics() *cache.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.metrics
	return &m
}

// Len returns the current number of items in cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the current total size in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

func (c *Cache) countMiss() {
	if c.metricsEnabled {
		c.metrics.Misses++
	}
}

// removeElement must be called with the lock held
func (c *Cache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

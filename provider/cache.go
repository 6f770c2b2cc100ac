package provider

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// ProviderCache caches initialized provider instances so each request
// does not re-run Initialize with the tenant's configuration.
type ProviderCache interface {
	Get(tenantID int, providerName, environment string) PaymentProvider
	Set(tenantID int, providerName, environment string, provider PaymentProvider)
	Delete(tenantID int, providerName, environment string)
	Clear()
	Size() int
	Stats() CacheStats
}

// CacheStats represents cache performance metrics
type CacheStats struct {
	Size      int           `json:"size"`
	MaxSize   int           `json:"max_size"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
	HitRatio  float64       `json:"hit_ratio"`
	TTL       time.Duration `json:"ttl"`
}

type cacheEntry struct {
	provider    PaymentProvider
	key         string
	createdAt   time.Time
	listElement *list.Element
}

// memoryProviderCache is an LRU cache with TTL expiry.
type memoryProviderCache struct {
	entries     map[string]*cacheEntry
	accessOrder *list.List // most recently used at the front
	maxSize     int
	ttl         time.Duration
	mu          sync.Mutex

	hits      int64
	misses    int64
	evictions int64
}

// NewProviderCache creates a new in-memory provider cache.
func NewProviderCache(maxSize int, ttl time.Duration) ProviderCache {
	return &memoryProviderCache{
		entries:     make(map[string]*cacheEntry),
		accessOrder: list.New(),
		maxSize:     maxSize,
		ttl:         ttl,
	}
}

func cacheKey(tenantID int, providerName, environment string) string {
	return fmt.Sprintf("%d-%s-%s", tenantID, providerName, environment)
}

func (c *memoryProviderCache) Get(tenantID int, providerName, environment string) PaymentProvider {
	key := cacheKey(tenantID, providerName, environment)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil
	}

	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.removeLocked(key, entry)
		c.misses++
		return nil
	}

	c.accessOrder.MoveToFront(entry.listElement)
	c.hits++
	return entry.provider
}

func (c *memoryProviderCache) Set(tenantID int, providerName, environment string, provider PaymentProvider) {
	key := cacheKey(tenantID, providerName, environment)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.entries[key]; exists {
		existing.provider = provider
		existing.createdAt = time.Now()
		c.accessOrder.MoveToFront(existing.listElement)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	entry := &cacheEntry{
		provider:  provider,
		key:       key,
		createdAt: time.Now(),
	}
	entry.listElement = c.accessOrder.PushFront(entry)
	c.entries[key] = entry
}

func (c *memoryProviderCache) Delete(tenantID int, providerName, environment string) {
	key := cacheKey(tenantID, providerName, environment)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		c.removeLocked(key, entry)
	}
}

func (c *memoryProviderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.accessOrder = list.New()
}

func (c *memoryProviderCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *memoryProviderCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRatio:  ratio,
		TTL:       c.ttl,
	}
}

func (c *memoryProviderCache) evictOldestLocked() {
	oldest := c.accessOrder.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*cacheEntry)
	c.removeLocked(entry.key, entry)
	c.evictions++
}

func (c *memoryProviderCache) removeLocked(key string, entry *cacheEntry) {
	delete(c.entries, key)
	if entry.listElement != nil {
		c.accessOrder.Remove(entry.listElement)
	}
}

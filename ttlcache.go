package cfdoh

import (
	"container/heap"
	"sync"
	"time"
)

// TtlCache is a generic, size-bounded cache with a per-entry absolute
// expiry. It backs both the DNS answer cache and the CDN classification
// memoization (C2 in the design), generalizing the teacher's *dns.Msg-only
// cache (lru-cache.go/cache-memory.go) to any comparable key and any value.
//
// Eviction combines TTL-expiry reaping with smallest-expiry-first eviction:
// when Store pushes the entry count over MaxSize, the entries with the
// smallest expiry are removed first. Already-expired entries necessarily
// have the smallest expiry, so they are always evicted before any live
// entry. This is implemented with a container/heap min-heap on expiry
// alongside the map, rather than the teacher's recency-ordered linked
// list, because recency and smallest-expiry are different orderings.
type TtlCache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*cacheEntry[K, V]
	order   entryHeap[K, V]
	maxSize int
	maxTTL  time.Duration
	now     func() time.Time
}

type cacheEntry[K comparable, V any] struct {
	key    K
	value  V
	expire time.Time
	index  int
}

// TtlCacheOptions configures a TtlCache. Zero values fall back to the
// defaults below.
type TtlCacheOptions struct {
	// MaxSize is the entry count cap, default 1000.
	MaxSize int
	// MaxTTL is the ceiling applied to every entry's TTL, default 600s.
	MaxTTL time.Duration
	// Now returns the current time, injectable for testing. Default time.Now.
	Now func() time.Time
}

const (
	defaultMaxCacheSize = 1000
	defaultMaxTTL       = 600 * time.Second
)

// NewTtlCache returns a new, empty TtlCache.
func NewTtlCache[K comparable, V any](opt TtlCacheOptions) *TtlCache[K, V] {
	if opt.MaxSize <= 0 {
		opt.MaxSize = defaultMaxCacheSize
	}
	if opt.MaxTTL <= 0 {
		opt.MaxTTL = defaultMaxTTL
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &TtlCache[K, V]{
		items:   make(map[K]*cacheEntry[K, V]),
		maxSize: opt.MaxSize,
		maxTTL:  opt.MaxTTL,
		now:     opt.Now,
	}
}

// Store sets key to value with an absolute expiry of now + min(ttl, MaxTTL).
// A ttl <= 0 uses MaxTTL. If inserting grows the cache past MaxSize,
// eviction removes exactly the overflow count, earliest-expiring first.
func (c *TtlCache[K, V]) Store(key K, value V, ttl time.Duration) {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	expire := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expire = expire
		heap.Fix(&c.order, e.index)
	} else {
		e := &cacheEntry[K, V]{key: key, value: value, expire: expire}
		c.items[key] = e
		heap.Push(&c.order, e)
	}
	c.evictLocked()
}

// Get returns the value stored under key if it exists and hasn't expired.
// A present-but-expired entry is removed and treated as absent.
func (c *TtlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expire) {
		c.removeLocked(e)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key from the cache, if present. Idempotent.
func (c *TtlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of entries currently stored, including any that
// have expired but haven't yet been reaped by a Get/Store.
func (c *TtlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *TtlCache[K, V]) evictLocked() {
	over := len(c.items) - c.maxSize
	for i := 0; i < over; i++ {
		if c.order.Len() == 0 {
			return
		}
		e := heap.Pop(&c.order).(*cacheEntry[K, V])
		delete(c.items, e.key)
	}
}

func (c *TtlCache[K, V]) removeLocked(e *cacheEntry[K, V]) {
	delete(c.items, e.key)
	if e.index >= 0 && e.index < c.order.Len() && c.order[e.index] == e {
		heap.Remove(&c.order, e.index)
	}
}

// entryHeap is a container/heap min-heap ordered by expiry, so the
// earliest-to-expire entry is always at the root.
type entryHeap[K comparable, V any] []*cacheEntry[K, V]

func (h entryHeap[K, V]) Len() int { return len(h) }

func (h entryHeap[K, V]) Less(i, j int) bool { return h[i].expire.Before(h[j].expire) }

func (h entryHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[K, V]) Push(x any) {
	e := x.(*cacheEntry[K, V])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

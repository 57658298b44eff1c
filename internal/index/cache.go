package index

import (
	"container/list"
	"sync"
	"time"
)

// ttlCache is a TTL + LRU bounded cache. Entries also carry the index
// generation they were computed against, so any index mutation implicitly
// invalidates every cached result.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[uint64]*list.Element
	order   *list.List // front = most recent
}

type cacheEntry struct {
	key     uint64
	value   any
	gen     uint64
	storedAt time.Time
}

func newTTLCache(ttl time.Duration, max int) *ttlCache {
	if max <= 0 {
		max = 256
	}
	return &ttlCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[uint64]*list.Element),
		order:   list.New(),
	}
}

// get returns the cached value when it is fresh and from the current
// generation.
func (c *ttlCache) get(key, gen uint64, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if ent.gen != gen || (c.ttl > 0 && now.Sub(ent.storedAt) > c.ttl) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// put stores value, evicting the least recently used entry at capacity.
func (c *ttlCache) put(key, gen uint64, value any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.value, ent.gen, ent.storedAt = value, gen, now
		c.order.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value, gen: gen, storedAt: now})
}

// purge drops everything; used on shutdown.
func (c *ttlCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*list.Element)
	c.order.Init()
}

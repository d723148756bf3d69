// Package memcache is the in-memory tier of the preview cache. It keeps two
// levels: a bounded "hot" LRU whose entries are guaranteed resident, and a
// larger "warm" LRU holding entries that were pushed out of the hot tier and
// may be reclaimed at any time. A warm hit promotes the entry back into the
// hot tier; that is the only promotion path.
//
// The warm tier stands in for the reclaimable weak-reference cache of
// garbage-collected runtimes: instead of waiting for a collector, it has its
// own independent cap and discards oldest-first.
//
// Every operation holds the mutex only for its bookkeeping. No I/O or
// decode work ever runs under the lock, so a slow load of one key never
// blocks lookups of unrelated keys.
package memcache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	lru "github.com/hashicorp/golang-lru"
)

// Pressure selects how aggressively EvictPressure trims the cache.
type Pressure int

const (
	// PressureHigh drops the oldest half of the hot tier.
	PressureHigh Pressure = iota + 1
	// PressureCritical drops the oldest three quarters of the hot tier and
	// empties the warm tier.
	PressureCritical
)

type entry struct {
	key        string
	data       []byte
	lastAccess time.Time
}

type Cache struct {
	clk clock.Clock

	m      sync.Mutex
	cap    int
	order  *list.List // hot tier, front is MRU
	index  map[string]*list.Element
	warm   *lru.Cache // nil when the warm tier is disabled
	hits   uint64
	misses uint64
}

// New returns a cache with the given hot and warm tier capacities, counted
// in entries. A warmCap of zero disables the warm tier.
func New(hotCap, warmCap int) *Cache {
	return NewWithClock(hotCap, warmCap, clock.New())
}

// NewWithClock is New with a controllable clock, for tests.
func NewWithClock(hotCap, warmCap int, clk clock.Clock) *Cache {
	if hotCap < 1 {
		hotCap = 1
	}
	c := &Cache{
		clk:   clk,
		cap:   hotCap,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
	if warmCap > 0 {
		// error only happens for non-positive sizes
		c.warm, _ = lru.New(warmCap)
	}
	return c
}

// Get returns the cached bytes for key. A hot hit refreshes the entry's
// recency; a warm hit promotes the entry into the hot tier.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry)
		e.lastAccess = c.clk.Now()
		c.order.MoveToFront(elem)
		c.hits++
		return e.data, true
	}
	if c.warm != nil {
		if v, ok := c.warm.Get(key); ok {
			c.warm.Remove(key)
			data := v.([]byte)
			c.insert(key, data)
			c.hits++
			return data, true
		}
	}
	c.misses++
	return nil, false
}

// Put inserts the bytes under key in the hot tier. If the tier is over
// capacity the least recently used entry is demoted to the warm tier.
func (c *Cache) Put(key string, data []byte) {
	c.m.Lock()
	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry)
		e.data = data
		e.lastAccess = c.clk.Now()
		c.order.MoveToFront(elem)
	} else {
		c.insert(key, data)
	}
	c.m.Unlock()
}

// insert adds a fresh hot entry, demoting from the tail as needed.
// Caller holds the lock.
func (c *Cache) insert(key string, data []byte) {
	c.index[key] = c.order.PushFront(&entry{
		key:        key,
		data:       data,
		lastAccess: c.clk.Now(),
	})
	for c.order.Len() > c.cap {
		tail := c.order.Back()
		e := c.order.Remove(tail).(*entry)
		delete(c.index, e.key)
		if c.warm != nil {
			c.warm.Add(e.key, e.data)
		}
	}
}

// EvictPressure trims the cache in response to memory pressure and returns
// the number of hot entries removed. Removal is strictly oldest-access-first
// and the evicted entries are discarded, not demoted; the point is to give
// memory back.
func (c *Cache) EvictPressure(p Pressure) int {
	c.m.Lock()
	defer c.m.Unlock()

	// the quotas round up so "half" and "three quarters" are never
	// undershot on sizes that do not divide evenly. a single remaining
	// entry is exempt.
	hot := c.order.Len()
	var n int
	switch p {
	case PressureHigh:
		n = (hot + 1) / 2
	case PressureCritical:
		n = (hot*3 + 3) / 4
	default:
		return 0
	}
	if hot <= 1 {
		n = 0
	}
	for i := 0; i < n; i++ {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		e := c.order.Remove(tail).(*entry)
		delete(c.index, e.key)
	}
	if c.warm != nil {
		if p == PressureCritical {
			c.warm.Purge()
		} else {
			half := c.warm.Len() / 2
			for i := 0; i < half; i++ {
				c.warm.RemoveOldest()
			}
		}
	}
	return n
}

// EvictIdle demotes every hot entry whose last access is older than maxAge
// to the warm tier, or discards it when the warm tier is disabled. It is the
// counterpart of a collector reclaiming weak references: entries nobody has
// asked for in a while lose their resident guarantee but stay recoverable.
// Returns the number of entries demoted.
func (c *Cache) EvictIdle(maxAge time.Duration) int {
	c.m.Lock()
	defer c.m.Unlock()

	cutoff := c.clk.Now().Add(-maxAge)
	var n int
	for {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		e := tail.Value.(*entry)
		if e.lastAccess.After(cutoff) {
			// the list is in access order, everything further in is younger
			break
		}
		c.order.Remove(tail)
		delete(c.index, e.key)
		if c.warm != nil {
			c.warm.Add(e.key, e.data)
		}
		n++
	}
	return n
}

// RemovePrefix drops every entry in either tier whose key starts with
// prefix. It returns the number of entries removed.
func (c *Cache) RemovePrefix(prefix string) int {
	c.m.Lock()
	defer c.m.Unlock()

	var removed int
	for key, elem := range c.index {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(elem)
			delete(c.index, key)
			removed++
		}
	}
	if c.warm != nil {
		for _, k := range c.warm.Keys() {
			if key, ok := k.(string); ok && strings.HasPrefix(key, prefix) {
				c.warm.Remove(k)
				removed++
			}
		}
	}
	return removed
}

// Len returns the current entry counts of the hot and warm tiers.
func (c *Cache) Len() (hot, warm int) {
	c.m.Lock()
	defer c.m.Unlock()
	hot = c.order.Len()
	if c.warm != nil {
		warm = c.warm.Len()
	}
	return
}

// Counters returns the hit and miss counts since the cache was created.
func (c *Cache) Counters() (hits, misses uint64) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.hits, c.misses
}

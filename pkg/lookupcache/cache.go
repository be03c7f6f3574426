// Package lookupcache keeps recent lookup results in front of the range index.
package lookupcache

import (
	"fmt"
	"net/netip"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gtriggiano/asn-lookup-service/pkg/metrics"
	"github.com/gtriggiano/asn-lookup-service/pkg/rangelist"
)

// Entry is a cached lookup outcome. Not-found answers are cached too.
type Entry struct {
	Record     rangelist.Record
	Found      bool
	Generation uint64
}

// store is the part of the LRU implementations the cache relies on.
type store interface {
	Get(key netip.Addr) (Entry, bool)
	Add(key netip.Addr, value Entry) bool
	Remove(key netip.Addr) bool
	Purge()
	Len() int
}

// Cache is a bounded, address-keyed LRU of lookup outcomes. Every entry carries the
// index generation it was computed against and is a hit only for that generation.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	entries         store
	instrumentation *metrics.Instrumentation
}

// New creates a cache holding at most size entries. A positive ttl additionally
// expires entries after that long. A size of zero disables caching and returns nil.
func New(size int, ttl time.Duration) (*Cache, error) {
	if size < 0 {
		return nil, fmt.Errorf("cache size must be non-negative, got %d", size)
	}
	if size == 0 {
		return nil, nil
	}

	if ttl > 0 {
		return &Cache{entries: expirable.NewLRU[netip.Addr, Entry](size, nil, ttl)}, nil
	}

	entries, err := lru.New[netip.Addr, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// SetInstrumentation wires Prometheus instrumentation.
func (c *Cache) SetInstrumentation(inst *metrics.Instrumentation) {
	if c == nil {
		return
	}
	c.instrumentation = inst
}

// Get returns the entry stored for addr if it was computed against generation.
// Entries from any other generation are dropped and reported as a miss.
func (c *Cache) Get(addr netip.Addr, generation uint64) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}

	entry, ok := c.entries.Get(addr)
	if ok && entry.Generation != generation {
		c.entries.Remove(addr)
		ok = false
	}

	if ok {
		c.instrumentation.ObserveCacheHit(metrics.LOCAL)
	} else {
		c.instrumentation.ObserveCacheMiss(metrics.LOCAL)
	}
	return entry, ok
}

// Put stores the entry for addr, replacing any previous one.
func (c *Cache) Put(addr netip.Addr, entry Entry) {
	if c == nil {
		return
	}
	c.entries.Add(addr, entry)
	c.instrumentation.ObserveCacheSize(metrics.LOCAL, c.entries.Len())
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.entries.Purge()
	c.instrumentation.ObserveCacheSize(metrics.LOCAL, 0)
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

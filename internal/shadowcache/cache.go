// Package shadowcache implements the in-memory keyed store of shadow records.
//
// The cache is owned by the process-level relay service, constructed once at
// startup and passed by handle to every event handler. Records for messages
// that are never edited or deleted are reclaimed by TTL expiry and a bounded
// LRU capacity rather than accumulating for the process lifetime.
package shadowcache

import (
	"container/list"
	"sync"
	"time"

	"shadowgram/pkg/shadowgram"
)

const (
	defaultMaxEntries = 10000
	defaultTTL        = 24 * time.Hour
)

// Option mutates cache configuration.
type Option func(*Cache)

// WithMaxEntries sets the in-memory capacity bound.
func WithMaxEntries(maxEntries int) Option {
	return func(cache *Cache) {
		if maxEntries > 0 {
			cache.maxEntries = maxEntries
		}
	}
}

// WithTTL sets how long a record can be returned without being touched.
func WithTTL(ttl time.Duration) Option {
	return func(cache *Cache) {
		if ttl > 0 {
			cache.ttl = ttl
		}
	}
}

// withClock injects a deterministic clock for tests.
func withClock(clock func() time.Time) Option {
	return func(cache *Cache) {
		if clock != nil {
			cache.clock = clock
		}
	}
}

// Cache stores shadow records keyed by composite identity with TTL expiry
// and LRU eviction. All operations are safe for concurrent use.
type Cache struct {
	maxEntries int
	ttl        time.Duration
	clock      func() time.Time

	mu      sync.Mutex
	records map[shadowgram.Identity]*cacheEntry
	lru     *list.List
	index   map[shadowgram.Identity]*list.Element
}

type cacheEntry struct {
	record    shadowgram.ShadowRecord
	expiresAt time.Time
}

// New creates a bounded shadow cache.
func New(options ...Option) *Cache {
	cache := &Cache{
		maxEntries: defaultMaxEntries,
		ttl:        defaultTTL,
		clock:      time.Now,
		records:    make(map[shadowgram.Identity]*cacheEntry),
		lru:        list.New(),
		index:      make(map[shadowgram.Identity]*list.Element),
	}
	for _, option := range options {
		option(cache)
	}

	return cache
}

// Put unconditionally inserts or overwrites the record for its identity.
func (c *Cache) Put(record shadowgram.ShadowRecord) {
	now := c.now()

	c.mu.Lock()
	c.upsertLocked(record.Identity, record, now)
	c.mu.Unlock()
}

// Get returns the record for identity without removing it.
func (c *Cache) Get(identity shadowgram.Identity) (shadowgram.ShadowRecord, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveEntryLocked(identity, now)
	if !ok {
		return shadowgram.ShadowRecord{}, false
	}
	c.touchLocked(identity)

	return entry.record, true
}

// TakeOnDelete atomically looks up and removes the record for identity.
// A second take for the same identity reports absence, which callers treat
// as "nothing to notify" rather than an error.
func (c *Cache) TakeOnDelete(identity shadowgram.Identity) (shadowgram.ShadowRecord, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveEntryLocked(identity, now)
	if !ok {
		return shadowgram.ShadowRecord{}, false
	}
	record := entry.record
	c.deleteLocked(identity)

	return record, true
}

// UpdateOnEdit swaps the stored payload for identity in place, preserving the
// record's kind and creation metadata, and returns the prior payload. When no
// record exists the fresh record is inserted as a first observation and
// existed is false: the caller knows no old text is available.
func (c *Cache) UpdateOnEdit(
	identity shadowgram.Identity,
	fresh shadowgram.ShadowRecord,
) (string, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveEntryLocked(identity, now)
	if !ok {
		c.upsertLocked(identity, fresh, now)
		return "", false
	}

	oldPayload := entry.record.Payload
	entry.record.Payload = fresh.Payload
	entry.expiresAt = c.expiryFrom(now)
	c.touchLocked(identity)

	return oldPayload, true
}

// Len reports the number of live entries, expiring stale ones first.
func (c *Cache) Len() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for identity, entry := range c.records {
		if c.isExpired(entry, now) {
			c.deleteLocked(identity)
		}
	}

	return len(c.records)
}

func (c *Cache) upsertLocked(
	identity shadowgram.Identity,
	record shadowgram.ShadowRecord,
	now time.Time,
) {
	if entry, ok := c.liveEntryLocked(identity, now); ok {
		entry.record = record
		entry.expiresAt = c.expiryFrom(now)
		c.touchLocked(identity)
		return
	}

	c.index[identity] = c.lru.PushFront(identity)
	c.records[identity] = &cacheEntry{
		record:    record,
		expiresAt: c.expiryFrom(now),
	}
	c.trimToCapacityLocked()
}

// liveEntryLocked returns the entry for identity, expiring it first if stale.
func (c *Cache) liveEntryLocked(identity shadowgram.Identity, now time.Time) (*cacheEntry, bool) {
	entry, ok := c.records[identity]
	if !ok {
		return nil, false
	}
	if c.isExpired(entry, now) {
		c.deleteLocked(identity)
		return nil, false
	}

	return entry, true
}

func (c *Cache) trimToCapacityLocked() {
	for len(c.records) > c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			break
		}
		oldest, ok := back.Value.(shadowgram.Identity)
		if !ok {
			c.lru.Remove(back)
			continue
		}
		c.deleteLocked(oldest)
	}
}

func (c *Cache) touchLocked(identity shadowgram.Identity) {
	element, ok := c.index[identity]
	if !ok {
		return
	}
	c.lru.MoveToFront(element)
}

func (c *Cache) deleteLocked(identity shadowgram.Identity) {
	if element, ok := c.index[identity]; ok {
		c.lru.Remove(element)
		delete(c.index, identity)
	}
	delete(c.records, identity)
}

func (c *Cache) isExpired(entry *cacheEntry, now time.Time) bool {
	if entry == nil {
		return true
	}
	if entry.expiresAt.IsZero() {
		return false
	}

	return !now.Before(entry.expiresAt)
}

func (c *Cache) expiryFrom(now time.Time) time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}

	return now.Add(c.ttl)
}

func (c *Cache) now() time.Time {
	return c.clock().UTC()
}

var _ shadowgram.ShadowCache = (*Cache)(nil)

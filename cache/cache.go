// Package cache keeps the freshest detection event per source on the
// consumer side. Entries expire on read after a TTL and the cache is bounded
// by an LRU cap so transient source ids cannot grow it without limit.
package cache

import (
	"container/list"
	"sync"
	"time"

	"ezliveAnalytics/models"
)

// DefaultMaxEntries bounds the cache when no explicit cap is given.
const DefaultMaxEntries = 256

type entry struct {
	event      models.DetectionEvent
	insertedAt time.Time
	lruElem    *list.Element
}

// DetectionCache maps sourceId to the latest detection event. All methods
// are safe for concurrent use; the lock is held only across map mutation,
// never across I/O.
type DetectionCache struct {
	mu         sync.Mutex
	entries    map[int]*entry
	lru        *list.List // Front = most recently updated. Values are source ids.
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewDetectionCache creates a cache with the given TTL and entry cap.
// maxEntries <= 0 selects DefaultMaxEntries.
func NewDetectionCache(ttl time.Duration, maxEntries int) *DetectionCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &DetectionCache{
		entries:    make(map[int]*entry),
		lru:        list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Update upserts the event for its source id. When a new source id arrives
// at capacity, the least-recently-updated entry is evicted.
func (c *DetectionCache) Update(ev models.DetectionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[ev.SourceId]; ok {
		e.event = ev
		e.insertedAt = c.now()
		c.lru.MoveToFront(e.lruElem)
		return
	}

	if len(c.entries) >= c.maxEntries {
		oldest := c.lru.Back()
		if oldest != nil {
			c.removeLocked(oldest.Value.(int))
		}
	}

	c.entries[ev.SourceId] = &entry{
		event:      ev,
		insertedAt: c.now(),
		lruElem:    c.lru.PushFront(ev.SourceId),
	}
}

// Get returns a copy of the freshest event for sourceId. An entry older than
// the TTL is evicted by the read itself and reported as absent.
func (c *DetectionCache) Get(sourceId int) (models.DetectionEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sourceId]
	if !ok {
		return models.DetectionEvent{}, false
	}

	if c.now().Sub(e.insertedAt) > c.ttl {
		c.removeLocked(sourceId)
		return models.DetectionEvent{}, false
	}

	return copyEvent(e.event), true
}

// Len reports the number of live entries, counting expired but not yet
// evicted ones.
func (c *DetectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DetectionCache) removeLocked(sourceId int) {
	if e, ok := c.entries[sourceId]; ok {
		c.lru.Remove(e.lruElem)
		delete(c.entries, sourceId)
	}
}

func copyEvent(ev models.DetectionEvent) models.DetectionEvent {
	out := ev
	if ev.Detections != nil {
		out.Detections = make([]models.Detection, len(ev.Detections))
		copy(out.Detections, ev.Detections)
	}

	return out
}

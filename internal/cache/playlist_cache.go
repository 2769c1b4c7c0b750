// Package cache provides the in-memory playlist cache: a bounded, weighted,
// TTL'd LRU keyed by a user pair plus a preference mode. The cache memoizes
// playlist computations done elsewhere; it never computes anything itself.
//
// Capacity is expressed in total track count across all entries, not entry
// count, so one giant playlist can't silently crowd out dozens of small
// ones without the arithmetic showing it.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/go-scrobble-backend/internal/domain"
)

// DefaultTTL is how long an entry stays servable after insertion.
const DefaultTTL = 12 * time.Hour

// ErrInvalidCapacity reports a construction usage error.
var ErrInvalidCapacity = errors.New("cache: capacity must be at least 1 track")

type entry struct {
	key       string
	tracks    []domain.Track
	weight    int
	expiresAt time.Time
}

// PlaylistCache is safe for concurrent use.
type PlaylistCache struct {
	mu       sync.Mutex
	capacity int
	used     int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element

	now func() time.Time
}

// New constructs a cache holding at most capacityTracks tracks in total.
// A ttl of 0 means DefaultTTL. Capacity below 1 is a usage error.
func New(capacityTracks int, ttl time.Duration) (*PlaylistCache, error) {
	if capacityTracks < 1 {
		return nil, ErrInvalidCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PlaylistCache{
		capacity: capacityTracks,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}, nil
}

// Key derives the primary and alternative cache keys for an ordered pair of
// users and a preference mode. Looking up (A,B) with the alternative (B,A)
// makes pair lookups order-independent without canonicalizing at write time.
func Key(userA, userB uint, preference string) (primary, alt string) {
	primary = fmt.Sprintf("%d:%d:%s", userA, userB, preference)
	alt = fmt.Sprintf("%d:%d:%s", userB, userA, preference)
	return primary, alt
}

// Get returns the cached playlist for key, falling back to altKey (pass ""
// for none) on a miss. Expired entries are dropped, never returned. A hit
// marks the entry most recently used.
func (c *PlaylistCache) Get(key, altKey string) ([]domain.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tracks, ok := c.get(key); ok {
		return tracks, true
	}
	if altKey != "" {
		return c.get(altKey)
	}
	return nil, false
}

// get is the single-key lookup; caller holds the lock.
func (c *PlaylistCache) get(key string) ([]domain.Track, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.tracks, true
}

// Set caches a computed playlist under key. An entry heavier than the whole
// cache is rejected outright: the set is a no-op and a subsequent Get
// misses. Otherwise least-recently-used entries are evicted until the new
// entry fits.
func (c *PlaylistCache) Set(key string, tracks []domain.Track) {
	weight := len(tracks)
	if weight > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}

	for c.used+weight > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.remove(back)
	}

	el := c.order.PushFront(&entry{
		key:       key,
		tracks:    tracks,
		weight:    weight,
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[key] = el
	c.used += weight
}

// Len returns the number of live entries (including not-yet-purged expired
// ones).
func (c *PlaylistCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Used returns the current total track count held.
func (c *PlaylistCache) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// remove unlinks an entry; caller holds the lock.
func (c *PlaylistCache) remove(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.used -= e.weight
}

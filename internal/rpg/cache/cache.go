// Package cache is the ephemeral low-latency mirror of active entities. It
// is advisory only: a missing key never means the entity does not exist,
// and any balance-affecting decision re-reads the durable store.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Namespaced key layout. TTL equals the entity's remaining time-to-live and
// is re-armed on every mutation; completion deletes the key explicitly so a
// finished entity can never linger as a stale "still running" read.
func BattleKey(id string) string       { return "battle:" + id }
func CraftingKey(userID string) string { return "crafting:" + userID }
func TravelKey(userID string) string   { return "travel:" + userID }
func GatherKey(userID string) string   { return "gather:" + userID }
func AuctionKey(id string) string      { return "auction:" + id }

// Namespace returns the key prefix before the first colon.
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

type entry struct {
	val       any
	expiresAt time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{entries: map[string]entry{}, now: time.Now}
}

// SetClock overrides the time source; tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Set stores val under key for ttl. Non-positive ttl deletes the key:
// an entity with no remaining lifetime has no business in the mirror.
func (c *Cache) Set(key string, val any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = entry{val: val, expiresAt: c.now().Add(ttl)}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.val, true
}

// TTL reports the remaining lifetime of key, or false if absent/expired.
func (c *Cache) TTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	d := e.expiresAt.Sub(c.now())
	if d <= 0 {
		delete(c.entries, key)
		return 0, false
	}
	return d, true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts live entries (expired ones are dropped lazily).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.Before(e.expiresAt) {
			n++
		} else {
			delete(c.entries, k)
		}
	}
	return n
}

package firewall

import (
	"sync"
	"time"

	"github.com/google/gopacket/layers"
)

type ownerKey struct {
	protocol layers.IPProtocol
	addr     uint32
	port     uint16
}

// cachedOwner holds a resolved uid with expiration
type cachedOwner struct {
	uid       int
	expiresAt time.Time
}

// ownerCache provides thread-safe caching of endpoint-to-uid mappings. Only
// positive matches are stored, so a socket that appears after a miss is seen
// on the next lookup.
type ownerCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[ownerKey]cachedOwner
}

func newOwnerCache(ttl time.Duration) *ownerCache {
	return &ownerCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[ownerKey]cachedOwner),
	}
}

func (c *ownerCache) get(key ownerKey) (int, bool) {
	c.mu.RLock()
	cached, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists || c.now().After(cached.expiresAt) {
		return UnknownUID, false
	}
	return cached.uid, true
}

func (c *ownerCache) set(key ownerKey, uid int) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Expired entries are swept on write so the map stays bounded by the
	// number of endpoints seen within one TTL.
	if len(c.entries) >= ownerCacheSweepThreshold {
		for k, v := range c.entries {
			if now.After(v.expiresAt) {
				delete(c.entries, k)
			}
		}
	}

	c.entries[key] = cachedOwner{
		uid:       uid,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *ownerCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

const ownerCacheSweepThreshold = 1024

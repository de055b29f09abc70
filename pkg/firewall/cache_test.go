package firewall

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"

	"github.com/bullfrogsec/uidwall/pkg/firewalltest"
)

func TestOwnerCache(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := newOwnerCache(time.Second)
	cache.now = func() time.Time { return now }

	key := ownerKey{protocol: layers.IPProtocolTCP, addr: 0x0A000002, port: 5555}

	_, found := cache.get(key)
	assert.False(t, found, "empty cache")

	cache.set(key, 1000)
	uid, found := cache.get(key)
	assert.True(t, found)
	assert.Equal(t, 1000, uid)

	// Same endpoint, different protocol.
	_, found = cache.get(ownerKey{protocol: layers.IPProtocolUDP, addr: 0x0A000002, port: 5555})
	assert.False(t, found)

	now = now.Add(1500 * time.Millisecond)
	_, found = cache.get(key)
	assert.False(t, found, "entry should have expired")
}

func TestOwnerCacheSweep(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := newOwnerCache(time.Second)
	cache.now = func() time.Time { return now }

	for i := 0; i < ownerCacheSweepThreshold; i++ {
		cache.set(ownerKey{protocol: layers.IPProtocolUDP, addr: 1, port: uint16(i)}, i)
	}
	assert.Equal(t, ownerCacheSweepThreshold, cache.len())

	now = now.Add(2 * time.Second)
	cache.set(ownerKey{protocol: layers.IPProtocolUDP, addr: 2, port: 1}, 7)
	assert.Equal(t, 1, cache.len())
}

func TestOwnerResolverCache(t *testing.T) {
	provider := firewalltest.NewProcNetProvider()
	provider.SetTable(layers.IPProtocolTCP, firewalltest.ProcNetTable(
		firewalltest.Socket{LocalIP: net.IP{10, 0, 0, 2}, LocalPort: 5555, UID: 1000},
	))
	resolver := NewOwnerResolver(provider, time.Minute)

	for i := 0; i < 5; i++ {
		uid, found := resolver.Resolve(layers.IPProtocolTCP, 0x0A000002, 5555)
		assert.True(t, found)
		assert.Equal(t, 1000, uid)
	}
	assert.Equal(t, 1, provider.Opens(layers.IPProtocolTCP), "hits should be served from cache")

	// Misses are not cached: a socket that shows up later is found.
	_, found := resolver.Resolve(layers.IPProtocolTCP, 0x0A000002, 6000)
	assert.False(t, found)
	provider.SetTable(layers.IPProtocolTCP, firewalltest.ProcNetTable(
		firewalltest.Socket{LocalIP: net.IP{10, 0, 0, 2}, LocalPort: 6000, UID: 3000},
	))
	uid, found := resolver.Resolve(layers.IPProtocolTCP, 0x0A000002, 6000)
	assert.True(t, found)
	assert.Equal(t, 3000, uid)
}

package signer

import (
	"crypto/tls"
	"sort"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	cert      *tls.Certificate
	expiresAt time.Time
}

// Cache signs each host set once per TTL.
type Cache struct {
	ca  tls.Certificate
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache(ca tls.Certificate, ttl time.Duration) *Cache {
	return &Cache{ca: ca, ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

// Sign returns a cached certificate for hosts, minting a new one when absent
// or expired. Signing holds the lock, so concurrent tunnels to the same host
// share a single key generation.
func (c *Cache) Sign(hosts ...string) (*tls.Certificate, error) {
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ";")

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return e.cert, nil
	}
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	cert, err := SignHost(c.ca, hosts)
	if err != nil {
		return nil, err
	}
	c.entries[key] = cacheEntry{cert: cert, expiresAt: now.Add(c.ttl)}
	return cert, nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

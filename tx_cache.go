package bookledger

import (
	"strings"
	"sync"
	"time"
)

// DefaultTxCacheTTL is how long an own transaction hash is remembered.
const DefaultTxCacheTTL = 10 * time.Minute

// TxCache remembers the hashes of transactions this process submitted,
// so ledger events they cause can be told apart from other parties' events.
type TxCache struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// NewTxCache creates a cache with the given TTL.
func NewTxCache(ttl time.Duration) *TxCache {
	if ttl <= 0 {
		ttl = DefaultTxCacheTTL
	}
	return &TxCache{
		expiry: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// Remember records hash as submitted by this process.
func (c *TxCache) Remember(hash string) {
	if hash == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expiry[normalizeHash(hash)] = c.now().Add(c.ttl)

	// Lazy cleanup of expired entries
	c.cleanupExpiredLocked()
}

// Contains reports whether hash was remembered and has not expired.
func (c *TxCache) Contains(hash string) bool {
	if hash == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizeHash(hash)
	expiry, exists := c.expiry[key]
	if !exists {
		return false
	}
	if c.now().After(expiry) {
		delete(c.expiry, key)
		return false
	}
	return true
}

// Forget drops hash.
func (c *TxCache) Forget(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expiry, normalizeHash(hash))
}

// Len returns the number of live entries.
func (c *TxCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupExpiredLocked()
	return len(c.expiry)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *TxCache) cleanupExpiredLocked() {
	now := c.now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.expiry, key)
		}
	}
}

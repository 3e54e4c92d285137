package monitor

import (
	"fmt"
	"sync"
)

// DedupCache tracks which products have already produced a notification for
// one user. Each orchestrator owns exactly one instance; entries live for the
// lifetime of the process and are never evicted, so a restart may re-notify.
type DedupCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupCache returns an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{seen: make(map[string]struct{})}
}

// DedupKey builds the deterministic identity for a (store, product, user)
// triple.
func DedupKey(storeURL, userID string, product ProductRecord) string {
	return fmt.Sprintf("%s|%s|%s", storeURL, product.Title, userID)
}

// ShouldNotify reports whether the product has not yet been notified.
func (c *DedupCache) ShouldNotify(storeURL, userID string, product ProductRecord) bool {
	key := DedupKey(storeURL, userID, product)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return !ok
}

// Record marks the product as notified. Callers record only after the
// downstream delivery succeeded, so a failed delivery stays eligible for the
// next cycle.
func (c *DedupCache) Record(storeURL, userID string, product ProductRecord) {
	c.RecordKey(DedupKey(storeURL, userID, product))
}

// RecordKey marks a precomputed identity as notified.
func (c *DedupCache) RecordKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = struct{}{}
}

// Len returns the number of recorded identities.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

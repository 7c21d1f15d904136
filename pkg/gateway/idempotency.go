package gateway

import (
	"sync"
	"time"
)

// idempotencyCache remembers submit replies by idempotency key so that a
// retried POST returns the first reply instead of queueing twice.
type idempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedSubmit
	now     func() time.Time
}

type cachedSubmit struct {
	response  SubmitResponse
	expiresAt time.Time
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{
		ttl:     ttl,
		entries: make(map[string]cachedSubmit),
		now:     time.Now,
	}
}

func (c *idempotencyCache) get(key string) (SubmitResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return SubmitResponse{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return SubmitResponse{}, false
	}
	return e.response, true
}

func (c *idempotencyCache) put(key string, resp SubmitResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedSubmit{response: resp, expiresAt: now.Add(c.ttl)}
}

func (c *idempotencyCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

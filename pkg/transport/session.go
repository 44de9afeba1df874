package transport

import (
	"sync"
	"time"
)

// DefaultTokenTTL is how long a cached bearer token is trusted. VNish does
// not report token expiry, so a conservative window is used.
const DefaultTokenTTL = 30 * time.Minute

// tokenInfo holds a bearer token and its expiry.
type tokenInfo struct {
	token     string
	expiresAt time.Time
}

// expired returns true with less than a minute of validity remaining.
func (t tokenInfo) expired() bool {
	return time.Now().Add(time.Minute).After(t.expiresAt)
}

// TokenCache caches bearer tokens per device host so that rescans and
// repeated collections do not unlock the device every time. The zero value
// is not usable; use NewTokenCache.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]tokenInfo
	ttl    time.Duration
}

// NewTokenCache creates a token cache with the default TTL.
func NewTokenCache() *TokenCache {
	return &TokenCache{
		tokens: make(map[string]tokenInfo),
		ttl:    DefaultTokenTTL,
	}
}

// WithTTL sets how long tokens are cached and returns the cache.
func (c *TokenCache) WithTTL(ttl time.Duration) *TokenCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	return c
}

// Get returns the cached token for a host, or empty if absent or expired.
func (c *TokenCache) Get(host string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.tokens[host]
	if !ok || info.expired() {
		return ""
	}
	return info.token
}

// Set caches a token for a host.
func (c *TokenCache) Set(host, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[host] = tokenInfo{
		token:     token,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Clear removes the cached token for a host.
func (c *TokenCache) Clear(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, host)
}

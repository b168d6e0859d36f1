// Package dedup rejects redelivered inbound events before they reach any
// stateful logic.
package dedup

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWindow is how long a fingerprint blocks redelivery.
	DefaultWindow = 5 * time.Minute

	// DefaultMaxFingerprints caps memory use; when full, stale entries are
	// pruned and, failing that, arbitrary ones are evicted. Evicting early
	// only risks duplicate processing, which the delivery guard absorbs.
	DefaultMaxFingerprints = 65536
)

// Cache is the TTL store behind the gate. The in-process implementation
// below is the default; an external cache can be swapped in.
type Cache interface {
	// Seen records the key with the given TTL and reports whether it was
	// already present.
	Seen(key string, ttl time.Duration) (bool, error)
}

// Gate admits each distinct inbound fingerprint once per window.
type Gate struct {
	cache  Cache
	window time.Duration
}

// New creates a gate with the given cache; nil means the in-process cache.
func New(cache Cache, window time.Duration) *Gate {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{cache: cache, window: window}
}

// Admit reports whether the event behind the fingerprint should be processed.
// A cache failure admits the event: duplicate processing is recoverable
// downstream, a silently dropped message is not.
func (g *Gate) Admit(fingerprint string) bool {
	seen, err := g.cache.Seen(fingerprint, g.window)
	if err != nil {
		slog.Warn("dedup cache unavailable, admitting event", "error", err)
		return true
	}
	return !seen
}

// MemoryCache is a bounded in-process TTL set.
type MemoryCache struct {
	mu      sync.Mutex
	maxKeys int
	entries map[string]time.Time // fingerprint -> expiry
}

// NewMemoryCache creates an empty cache tracking at most maxKeys fingerprints
// (<=0 means the default cap).
func NewMemoryCache(maxKeys int) *MemoryCache {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxFingerprints
	}
	return &MemoryCache{maxKeys: maxKeys, entries: make(map[string]time.Time)}
}

func (c *MemoryCache) Seen(key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		return true, nil
	}

	if len(c.entries) >= c.maxKeys {
		for k, exp := range c.entries {
			if !now.Before(exp) {
				delete(c.entries, k)
			}
		}
		for len(c.entries) >= c.maxKeys {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
	}

	c.entries[key] = now.Add(ttl)
	return false, nil
}

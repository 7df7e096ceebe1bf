package providers

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"llmbench/internal/core"
)

// Resolver hands out adapters by provider key.
type Resolver interface {
	Resolve(key string) (core.Provider, error)
	Available() []string
}

// CachedResolver keeps one adapter per provider key and credential
// fingerprint. Concurrent misses for the same key share one construction.
type CachedResolver struct {
	registry *Registry
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	fingerprint uint64
	provider    core.Provider
}

// NewCachedResolver wraps a registry.
func NewCachedResolver(r *Registry) *CachedResolver {
	return &CachedResolver{
		registry: r,
		entries:  make(map[string]cacheEntry),
	}
}

// Resolve returns the cached adapter for key, building it when the
// credentials changed since the last build. Failed builds are not cached.
func (c *CachedResolver) Resolve(key string) (core.Provider, error) {
	fp := c.registry.Source().Fingerprint()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.fingerprint == fp {
		return e.provider, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("%s/%x", key, fp), func() (interface{}, error) {
		p, err := c.registry.Resolve(key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{fingerprint: fp, provider: p}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.Provider), nil
}

// Available delegates to the registry.
func (c *CachedResolver) Available() []string {
	return c.registry.Available()
}

// Invalidate drops every cached adapter.
func (c *CachedResolver) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

package querylang

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// ProgramCache stores compiled programs keyed by engine and expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

func cacheKey(engine, expression string) string {
	return engine + "\x00" + expression
}

// RistrettoCache is a bounded ProgramCache. Every program costs 1, so
// MaxEntries bounds the number of cached programs. Writes are buffered and
// may become visible after a short delay.
type RistrettoCache struct {
	cache *ristretto.Cache[string, any]
}

var _ ProgramCache = (*RistrettoCache)(nil)

// NewRistrettoCache returns a cache holding up to maxEntries programs.
func NewRistrettoCache(maxEntries int64) (*RistrettoCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("querylang: cache size must be positive, got %d", maxEntries)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("querylang: program cache: %w", err)
	}
	return &RistrettoCache{cache: cache}, nil
}

// Get implements ProgramCache.
func (c *RistrettoCache) Get(key string) (any, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

// Set implements ProgramCache.
func (c *RistrettoCache) Set(key string, value any) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Set(key, value, 1)
}

// Wait blocks until buffered writes are applied.
func (c *RistrettoCache) Wait() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *RistrettoCache) Close() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Close()
}

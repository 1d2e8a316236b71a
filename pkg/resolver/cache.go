package resolver

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/flatbed/pescan/pkg/identity"
)

const (
	// DefaultCacheSize bounds the number of cached identities
	DefaultCacheSize = 4096
	// DefaultCacheTTL is how long a cached identity stays valid
	DefaultCacheTTL = 10 * time.Minute
)

// identityCache remembers the identity read from a file, keyed by path, size
// and modification time so that a rewritten file is read again
type identityCache struct {
	cache  *lru.LRU[string, identity.Identity]
	hits   atomic.Int64
	misses atomic.Int64
}

func newIdentityCache(size int, ttl time.Duration) *identityCache {
	if size <= 0 {
		return nil
	}
	return &identityCache{cache: lru.NewLRU[string, identity.Identity](size, nil, ttl)}
}

func cacheKey(path string, info os.FileInfo) string {
	return fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
}

func (c *identityCache) get(key string) (identity.Identity, bool) {
	id, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return id, ok
}

func (c *identityCache) add(key string, id identity.Identity) {
	c.cache.Add(key, id)
}

// CacheStats reports identity cache usage
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Items   int     `json:"items"`
	HitRate float64 `json:"hit_rate"`
}

func (c *identityCache) stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	s := CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Items: c.cache.Len()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

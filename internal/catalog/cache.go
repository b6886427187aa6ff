package catalog

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ReleaseCache holds season episode lists for a bounded number of seasons.
// Entries older than the TTL are treated as absent.
type ReleaseCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	episodes []EpisodeInfo
	storedAt time.Time
}

func NewReleaseCache(size int, ttl time.Duration, now func() time.Time) (*ReleaseCache, error) {
	if size <= 0 {
		size = 512
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create release cache: %w", err)
	}
	return &ReleaseCache{entries: entries, ttl: ttl, now: now}, nil
}

func cacheKey(catalogID string, season int) string {
	return fmt.Sprintf("%s/%d", catalogID, season)
}

func (c *ReleaseCache) Get(catalogID string, season int) ([]EpisodeInfo, bool) {
	key := cacheKey(catalogID, season)
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.storedAt) >= c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.episodes, true
}

func (c *ReleaseCache) Put(catalogID string, season int, episodes []EpisodeInfo) {
	c.entries.Add(cacheKey(catalogID, season), cacheEntry{episodes: episodes, storedAt: c.now()})
}

// Invalidate drops every season cached for catalogID.
func (c *ReleaseCache) Invalidate(catalogID string) {
	prefix := catalogID + "/"
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
}

func (c *ReleaseCache) Len() int {
	return c.entries.Len()
}

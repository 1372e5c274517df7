package videos

import (
	"context"
	"sync"
	"time"

	"github.com/musicstream/backend/internal/models"
)

type cacheEntry struct {
	metadata models.VideoMetadata
	expires  time.Time
}

// MetadataCache wraps a MetadataFetcher with a TTL-based in-memory cache.
// Placeholder records are never cached so a later request can still succeed.
type MetadataCache struct {
	base MetadataFetcher
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewMetadataCache returns a fetcher that caches real results for ttl.
func NewMetadataCache(base MetadataFetcher, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MetadataCache{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// FetchMetadata returns cached metadata when fresh, otherwise it delegates to
// the underlying fetcher.
func (c *MetadataCache) FetchMetadata(ctx context.Context, videoID string) models.VideoMetadata {
	if c == nil || c.base == nil {
		return PlaceholderMetadata(videoID)
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[videoID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.metadata
	}

	metadata := c.base.FetchMetadata(ctx, videoID)
	if metadata.Placeholder {
		return metadata
	}

	c.mu.Lock()
	c.items[videoID] = cacheEntry{metadata: metadata, expires: now.Add(c.ttl)}
	c.purgeLocked(now)
	c.mu.Unlock()

	return metadata
}

func (c *MetadataCache) purgeLocked(now time.Time) {
	for id, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, id)
		}
	}
}

package video

import (
	"sync"
	"sync/atomic"

	"github.com/lumenplay/lumen/media"
)

// CacheStats is a snapshot of view cache effectiveness. In steady state
// the decoder cycles a small fixed pool, so after the first pass over the
// pool the hit rate should stay above 99%.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// HitRate returns hits / lookups, or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// viewEntry caches the pair of plane views for one (surface, slice).
type viewEntry struct {
	surfaceID uint64
	slice     int
	luma      View
	chroma    View
}

// ViewCache holds borrowed per-surface shader resource views keyed by
// surface identity. It is a sequential-scan pool, not a map: decoder pools
// are small (≤20 surfaces) and the scan beats hashing at that size. The
// cache never owns surfaces — entries must be dropped via Clear before the
// decoder recycles its pool (seek, stop), or a stale identifier could
// match recycled memory.
type ViewCache struct {
	mu      sync.Mutex
	entries []viewEntry
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// Views returns the cached plane views for the surface, creating and
// caching them on first sight.
func (c *ViewCache) Views(dev Device, s media.Surface, slice int) (luma, chroma View, err error) {
	id := s.SurfaceID()

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].surfaceID == id && c.entries[i].slice == slice {
			c.hits.Add(1)
			return c.entries[i].luma, c.entries[i].chroma, nil
		}
	}

	c.misses.Add(1)
	luma, err = dev.CreateView(s, slice, 0)
	if err != nil {
		return nil, nil, err
	}
	chroma, err = dev.CreateView(s, slice, 1)
	if err != nil {
		luma.Release()
		return nil, nil, err
	}
	c.entries = append(c.entries, viewEntry{surfaceID: id, slice: slice, luma: luma, chroma: chroma})
	return luma, chroma, nil
}

// Clear releases every cached view. Must run before the decoder's surface
// pool is torn down or reset.
func (c *ViewCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i].luma.Release()
		c.entries[i].chroma.Release()
	}
	c.entries = nil
}

// Stats returns the cache counters and current size.
func (c *ViewCache) Stats() CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}

// Package cellcache memoizes rasterization results. Keys are derived from
// the geometry bytes and the rasterization parameters, so entries are
// immutable and never need invalidation.
package cellcache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
)

// Store holds cell lists under content-addressed keys. Implementations
// swallow transport errors; a failed Get is a miss, a failed Set is a no-op.
type Store interface {
	Get(key string) ([]h3.Cell, bool)
	Set(key string, cells []h3.Cell, ttl time.Duration)
}

// KeyFor builds the cache key for one geometry and parameter set.
func KeyFor(wkbGeom []byte, res int, mode hexgrid.ContainmentMode, compact bool) string {
	c := 0
	if compact {
		c = 1
	}
	return fmt.Sprintf("cells:%d:%s:%d:g=%016x", res, mode, c, xxhash.Sum64(wkbGeom))
}

// CachedRasterizer wraps a Rasterizer with a Store. An empty cell list is a
// valid cached value, distinct from a miss.
type CachedRasterizer struct {
	next  hexgrid.Rasterizer
	store Store
	ttl   time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

func Wrap(next hexgrid.Rasterizer, store Store, ttl time.Duration) *CachedRasterizer {
	return &CachedRasterizer{next: next, store: store, ttl: ttl}
}

func (c *CachedRasterizer) CellsFor(wkbGeom []byte, res int, mode hexgrid.ContainmentMode, compact bool) ([]h3.Cell, error) {
	key := KeyFor(wkbGeom, res, mode, compact)
	if cells, ok := c.store.Get(key); ok {
		c.hits.Add(1)
		return cells, nil
	}
	cells, err := c.next.CellsFor(wkbGeom, res, mode, compact)
	if err != nil {
		return nil, err
	}
	c.misses.Add(1)
	c.store.Set(key, cells, c.ttl)
	return cells, nil
}

// Stats returns cumulative hit and miss counts.
func (c *CachedRasterizer) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

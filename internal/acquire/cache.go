package acquire

import (
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"pathpilot/internal/geom"
)

type cellKey struct {
	X int
	Y int
}

// NegativeCache remembers probe targets the oracle could not route to, so the
// next rounds spend their fan-out elsewhere. Entries expire after a TTL.
type NegativeCache struct {
	cells *expirable.LRU[cellKey, struct{}]
	cell  float64
}

// NewNegativeCache quantises targets to cells of the given size. A
// non-positive size disables the cache.
func NewNegativeCache(size int, cell float64, ttl time.Duration) *NegativeCache {
	if size <= 0 || cell <= 0 {
		return nil
	}
	return &NegativeCache{
		cells: expirable.NewLRU[cellKey, struct{}](size, nil, ttl),
		cell:  cell,
	}
}

func (c *NegativeCache) key(p geom.Point) cellKey {
	return cellKey{X: int(math.Floor(p.X / c.cell)), Y: int(math.Floor(p.Y / c.cell))}
}

// Add marks the target unreachable.
func (c *NegativeCache) Add(target geom.Point) {
	if c == nil {
		return
	}
	c.cells.Add(c.key(target), struct{}{})
}

// Suppressed implements Suppressor.
func (c *NegativeCache) Suppressed(target geom.Point) bool {
	if c == nil {
		return false
	}
	return c.cells.Contains(c.key(target))
}

// Len reports the number of live entries.
func (c *NegativeCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cells.Len()
}

// Purge forgets every entry.
func (c *NegativeCache) Purge() {
	if c == nil {
		return
	}
	c.cells.Purge()
}

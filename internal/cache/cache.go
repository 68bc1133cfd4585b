// Package cache holds feature rows of remote nodes so repeated transfers of
// the same frontier do not re-ship payloads the machine already has.
package cache

import (
	"sync"
)

// FeatureCache maps parent node IDs to their feature rows.
type FeatureCache interface {
	// Get retrieves a node's feature row.
	Get(id int64) ([]float32, bool)
	// Put stores a node's feature row.
	Put(id int64, row []float32)
	// Size returns the number of cached rows.
	Size() int
}

// MapCache is a simple in-memory FeatureCache.
type MapCache struct {
	data map[int64][]float32
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[int64][]float32),
	}
}

// Get returns a copy so callers cannot mutate the cached row.
func (c *MapCache) Get(id int64) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.data[id]; ok {
		dst := make([]float32, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *MapCache) Put(id int64, row []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dst := make([]float32, len(row))
	copy(dst, row)
	c.data[id] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

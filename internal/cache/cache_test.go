package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCachePutGet(t *testing.T) {
	c := NewMapCache()
	assert.Equal(t, 0, c.Size())

	c.Put(7, []float32{1, 2, 3})
	row, ok := c.Get(7)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, row)
	assert.Equal(t, 1, c.Size())

	_, ok = c.Get(8)
	assert.False(t, ok)
}

func TestMapCacheCopiesRows(t *testing.T) {
	c := NewMapCache()
	src := []float32{1, 2}
	c.Put(1, src)
	src[0] = 99

	row, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, row, "stored row is independent of the caller's slice")

	row[1] = 99
	again, _ := c.Get(1)
	assert.Equal(t, []float32{1, 2}, again, "returned row is a copy")
}

package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func twoPartBook(machine string) *Book {
	return NewBook([]PartInfo{
		{Machine: "alpha", NumNodes: 5, NumEdges: 7},
		{Machine: "beta", NumNodes: 3, NumEdges: 2},
	}, machine)
}

func TestRangeLookups(t *testing.T) {
	b := twoPartBook("alpha")
	assert.Equal(t, int64(8), b.TotalNodes())
	assert.Equal(t, int64(9), b.TotalEdges())

	p, err := b.NodeToPartition(4)
	require.NoError(t, err)
	assert.Equal(t, 0, p)
	p, err = b.NodeToPartition(5)
	require.NoError(t, err)
	assert.Equal(t, 1, p)
	p, err = b.EdgeToPartition(8)
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	_, err = b.NodeToPartition(8)
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
	_, err = b.NodeToPartition(-1)
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

func TestLocalGlobalRoundTrip(t *testing.T) {
	b := twoPartBook("beta")
	p, local, err := b.ToLocal(6)
	require.NoError(t, err)
	assert.Equal(t, 1, p)
	assert.Equal(t, int64(1), local)

	global, err := b.ToGlobal(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), global)

	_, err = b.ToGlobal(1, 3)
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

func TestLocalTableOnlyForOwned(t *testing.T) {
	b := twoPartBook("beta")
	err := b.SetLocalNodes(0, tensor.IndexFromInts(0, 1, 2, 3, 4))
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange, "alpha's table must not be resident on beta")

	// beta owns partition 1 and reorders its nodes
	require.NoError(t, b.SetLocalNodes(1, tensor.IndexFromInts(7, 5, 6)))
	p, local, err := b.ToLocal(5)
	require.NoError(t, err)
	assert.Equal(t, 1, p)
	assert.Equal(t, int64(1), local)
	global, err := b.ToGlobal(1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), global)
}

func TestBookSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.cbor")
	require.NoError(t, twoPartBook("alpha").Save(path))

	b, err := Load(path, "beta")
	require.NoError(t, err)
	assert.Equal(t, 2, b.NumPartitions())
	assert.Equal(t, int64(8), b.TotalNodes())
	assert.False(t, b.Owned(0))
	assert.True(t, b.Owned(1))
}

func TestRangePartition(t *testing.T) {
	// 7 nodes over 3 machines: ranges [0,3), [3,5), [5,7).
	src := []int64{0, 1, 6, 3, 2}
	dst := []int64{1, 4, 5, 0, 6}
	b, order, err := RangePartition(7, src, dst, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), b.Parts[0].NumNodes)
	assert.Equal(t, int64(2), b.Parts[1].NumNodes)
	assert.Equal(t, int64(2), b.Parts[2].NumNodes)
	// edges by destination owner: dst 1,0 -> part 0; dst 4 -> part 1; dst 5,6 -> part 2.
	assert.Equal(t, int64(2), b.Parts[0].NumEdges)
	assert.Equal(t, int64(1), b.Parts[1].NumEdges)
	assert.Equal(t, int64(2), b.Parts[2].NumEdges)
	assert.Equal(t, []int64{0, 3, 1, 2, 4}, order)

	_, _, err = RangePartition(7, []int64{9}, []int64{0}, []string{"a"})
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

func TestClusterConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"machines:\n  - name: alpha\n    addr: 10.0.0.1:9090\n  - name: beta\n    addr: 10.0.0.2:9090\nbook: /data/book.cbor\n"), 0o644))

	c, err := LoadCluster(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, c.Names())
	addr, err := c.Addr("beta")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:9090", addr)
	_, err = c.Addr("gamma")
	assert.ErrorIs(t, err, tensor.ErrTypeNotFound)
	assert.Equal(t, "/data/book.cbor", c.Book)
}

package hetero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func TestCombineFlattensRelations(t *testing.T) {
	g := socialGraph(t)
	nd, err := g.NodeData("user")
	require.NoError(t, err)
	require.NoError(t, nd.Set("h", tensor.FromSlice([]float32{10, 11, 12})))
	gd, err := g.NodeData("game")
	require.NoError(t, err)
	require.NoError(t, gd.Set("h", tensor.FromSlice([]float32{20, 21})))
	require.NoError(t, gd.Set("gameOnly", tensor.FromSlice([]float32{1, 2})))

	c, err := g.Combine([]string{"follows", "plays"})
	require.NoError(t, err)

	// Merged node space: games [0,2) then users [2,5), sorted by type name.
	flat := c.Graph
	n, err := flat.NumNodes("game+user")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	e, err := flat.NumEdges("follows+plays")
	require.NoError(t, err)
	assert.Equal(t, 6, e)

	assert.Equal(t, []int64{1, 1, 0, 0, 0}, c.NodeType.Data(), "game=type 1, user=type 0 in declaration order")
	assert.Equal(t, []int64{0, 1, 0, 1, 2}, c.NodeID.Data())
	assert.Equal(t, []int64{0, 0, 1, 1, 1, 1}, c.EdgeType.Data())
	assert.Equal(t, []int64{0, 1, 0, 1, 2, 3}, c.EdgeID.Data())

	u, err := flat.Unit()
	require.NoError(t, err)
	src, dst, err := u.Edges()
	require.NoError(t, err)
	// follows edges shifted into the user block, plays edges span blocks.
	assert.Equal(t, []int64{2, 3, 2, 3, 3, 4}, src)
	assert.Equal(t, []int64{3, 4, 0, 0, 1, 1}, dst)

	// "h" is common to both types; "gameOnly" is not and gets dropped.
	nf, err := flat.NodeData("game+user")
	require.NoError(t, err)
	col, err := nf.Get("h")
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 21, 10, 11, 12}, col.Data())
	assert.False(t, nf.Has("gameOnly"))
}

func TestCombineUnknownRelation(t *testing.T) {
	g := socialGraph(t)
	_, err := g.Combine([]string{"bogus"})
	assert.ErrorIs(t, err, tensor.ErrTypeNotFound)
}

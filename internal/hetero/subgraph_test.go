package hetero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func TestNodeSubgraphTyped(t *testing.T) {
	g := socialGraph(t)
	nd, err := g.NodeData("user")
	require.NoError(t, err)
	require.NoError(t, nd.Set("h", tensor.FromSlice([]float32{10, 11, 12})))

	sub, err := g.NodeSubgraph(map[string][]int64{
		"user": {1, 2},
		"game": {1},
	})
	require.NoError(t, err)

	n, err := sub.Graph.NumNodes("user")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Kept plays edges: (1,1) and (2,1) in parent IDs.
	e, err := sub.Graph.NumEdges("plays")
	require.NoError(t, err)
	assert.Equal(t, 2, e)
	u, err := sub.Graph.Relation("plays")
	require.NoError(t, err)
	src, dst, err := u.Edges()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{0, 1}, src, "local user ids follow the given order")
	assert.Equal(t, []int64{0, 0}, dst)

	// follows keeps only (1,2).
	e, err = sub.Graph.NumEdges("follows")
	require.NoError(t, err)
	assert.Equal(t, 1, e)

	assert.Equal(t, []int64{1, 2}, sub.InducedNodes["user"].Data())
	assert.Equal(t, []int64{2, 3}, sub.InducedEdges["user:plays:game"].Data())

	nf, err := sub.Graph.NodeData("user")
	require.NoError(t, err)
	col, err := nf.Get("h")
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 12}, col.Data())
}

func TestNodeSubgraphMissingTypeIsEmpty(t *testing.T) {
	g := socialGraph(t)
	sub, err := g.NodeSubgraph(map[string][]int64{"user": {0, 1}})
	require.NoError(t, err)
	n, err := sub.Graph.NumNodes("game")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	e, err := sub.Graph.NumEdges("plays")
	require.NoError(t, err)
	assert.Equal(t, 0, e)
}

func TestEdgeSubgraphTyped(t *testing.T) {
	g := socialGraph(t)
	ed, err := g.EdgeData("plays")
	require.NoError(t, err)
	require.NoError(t, ed.Set("w", tensor.FromSlice([]float32{1, 2, 3, 4})))

	sub, err := g.EdgeSubgraph(map[string][]int64{"plays": {3, 1}})
	require.NoError(t, err)

	// Endpoints relabeled by first appearance: users seen 2 then 1, game 1 then 0.
	assert.Equal(t, []int64{2, 1}, sub.InducedNodes["user"].Data())
	assert.Equal(t, []int64{1, 0}, sub.InducedNodes["game"].Data())
	assert.Equal(t, []int64{3, 1}, sub.InducedEdges["user:plays:game"].Data())

	u, err := sub.Graph.Relation("plays")
	require.NoError(t, err)
	src, dst, err := u.Edges()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, src)
	assert.Equal(t, []int64{0, 1}, dst)

	nf, err := sub.Graph.EdgeData("plays")
	require.NoError(t, err)
	col, err := nf.Get("w")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 2}, col.Data())

	_, err = g.EdgeSubgraph(map[string][]int64{"plays": {9}})
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// star into node 0 plus a chain 4->5->0.
func sampleGraph(t *testing.T) *graph.Unit {
	t.Helper()
	g, err := graph.FromCOOInts(6, 6,
		[]int64{1, 2, 3, 5, 4},
		[]int64{0, 0, 0, 0, 5})
	require.NoError(t, err)
	return g
}

func TestSampleAllNeighbors(t *testing.T) {
	g := sampleGraph(t)
	s := NewNeighborSampler(0, false, 1)
	blk, err := s.SampleNeighbors(g, []int64{0})
	require.NoError(t, err)

	assert.Equal(t, 4, blk.Graph.NumEdges())
	assert.Equal(t, []int64{0}, blk.DstNodes.Data())
	assert.ElementsMatch(t, []int64{1, 2, 3, 5}, blk.SrcNodes.Data())
	assert.ElementsMatch(t, []int64{0, 1, 2, 3}, blk.EdgeIDs.Data())

	// every sampled edge points at local dst 0
	_, dst, err := blk.Graph.Edges()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0, 0}, dst)
}

func TestFanoutWithoutReplacement(t *testing.T) {
	g := sampleGraph(t)
	s := NewNeighborSampler(2, false, 7)
	blk, err := s.SampleNeighbors(g, []int64{0})
	require.NoError(t, err)

	assert.Equal(t, 2, blk.Graph.NumEdges())
	seen := map[int64]bool{}
	for _, e := range blk.EdgeIDs.Data() {
		assert.False(t, seen[e], "no duplicate edges without replacement")
		seen[e] = true
		src, _, err := g.FindEdges([]int64{e})
		require.NoError(t, err)
		assert.Contains(t, []int64{1, 2, 3, 5}, src[0])
	}
}

func TestFanoutWithReplacementKeepsCount(t *testing.T) {
	g := sampleGraph(t)
	s := NewNeighborSampler(3, true, 7)
	blk, err := s.SampleNeighbors(g, []int64{5})
	require.NoError(t, err)
	// node 5 has a single in-edge; with replacement it repeats.
	assert.Equal(t, 3, blk.Graph.NumEdges())
	assert.Equal(t, []int64{4}, blk.SrcNodes.Data())
}

func TestDstAlignsWithSeedOrder(t *testing.T) {
	g := sampleGraph(t)
	s := NewNeighborSampler(0, false, 1)
	blk, err := s.SampleNeighbors(g, []int64{5, 0})
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 0}, blk.DstNodes.Data())
	_, dst, err := blk.Graph.Edges()
	require.NoError(t, err)
	// the 4->5 edge lands on local dst 0, the star edges on local dst 1.
	assert.Equal(t, int64(0), dst[0])
	for _, v := range dst[1:] {
		assert.Equal(t, int64(1), v)
	}
}

func TestSeedOutOfRange(t *testing.T) {
	g := sampleGraph(t)
	s := NewNeighborSampler(2, false, 1)
	_, err := s.SampleNeighbors(g, []int64{9})
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

func TestSampleBlocksOffsets(t *testing.T) {
	g := sampleGraph(t)
	s := NewNeighborSampler(0, false, 1)
	blocks, layerOff, blockOff, err := s.SampleBlocks(g, []int64{0}, []int{0, 0})
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	// layer 0: seed {0}; layer 1: frontier {1,2,3,5}; layer 2: in-neighbors
	// of the frontier, i.e. {4} feeding 5.
	assert.Equal(t, 4, blocks[0].SrcNodes.Len())
	assert.Equal(t, 1, blocks[1].SrcNodes.Len())
	assert.Equal(t, []int64{0, 1, 5, 6}, layerOff)
	assert.Equal(t, []int64{0, 4, 5}, blockOff)

	// second block's seeds are the first block's frontier
	assert.Equal(t, blocks[0].SrcNodes.Data(), blocks[1].DstNodes.Data())
}

package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func TestEdgeSoftmaxNormalization(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	const numSrc, numDst, numEdges = 8, 6, 20
	g := randGraph(t, rng, numSrc, numDst, numEdges)
	scores := randDense(rng, numEdges, 4)

	out, _, err := EdgeSoftmax(g, scores, ByDst)
	require.NoError(t, err)

	_, dst, err := g.Edges()
	require.NoError(t, err)
	sums := make([]float64, numDst*4)
	for e := range dst {
		for j := 0; j < 4; j++ {
			sums[int(dst[e])*4+j] += float64(out.Row(e)[j])
		}
	}
	indeg, err := g.InDegrees()
	require.NoError(t, err)
	for v := 0; v < numDst; v++ {
		for j := 0; j < 4; j++ {
			if indeg[v] == 0 {
				assert.Zero(t, sums[v*4+j])
				continue
			}
			assert.InDelta(t, 1.0, sums[v*4+j], 1e-5, "dst %d feature %d", v, j)
		}
	}
}

func TestEdgeSoftmaxSingleEdgeIsOne(t *testing.T) {
	g, err := graph.FromCOOInts(2, 2, []int64{0}, []int64{1})
	require.NoError(t, err)
	out, _, err := EdgeSoftmax(g, tensor.FromSlice([]float32{-4.2}), ByDst)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(out.Data()[0]), 1e-6)
}

func TestEdgeSoftmaxBySrc(t *testing.T) {
	// Node 0 fans out to dst 0 and 1 with equal scores: each gets 0.5.
	g, err := graph.FromCOOInts(1, 2, []int64{0, 0}, []int64{0, 1})
	require.NoError(t, err)
	out, _, err := EdgeSoftmax(g, tensor.FromSlice([]float32{1, 1}), BySrc)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, float64(out.Data()[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(out.Data()[1]), 1e-6)
}

func TestEdgeSoftmaxBackwardFiniteDiff(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	g := randGraph(t, rng, 4, 4, 10)
	scores := randDense(rng, 10, 1)
	coeff := randDense(rng, 10, 1)

	out, ctx, err := EdgeSoftmax(g, scores, ByDst)
	require.NoError(t, err)
	_ = out
	dx, err := EdgeSoftmaxBackward(ctx, coeff)
	require.NoError(t, err)

	loss := func() float64 {
		o, _, err := EdgeSoftmax(g, scores, ByDst)
		require.NoError(t, err)
		var s float64
		for i, v := range o.Data() {
			s += float64(v) * float64(coeff.Data()[i])
		}
		return s
	}
	const eps = 1e-2
	for i := 0; i < scores.Len(); i++ {
		orig := scores.Data()[i]
		scores.Data()[i] = orig + eps
		up := loss()
		scores.Data()[i] = orig - eps
		down := loss()
		scores.Data()[i] = orig
		assert.InDelta(t, (up-down)/(2*eps), float64(dx.Data()[i]), 2e-2, "dscore[%d]", i)
	}
}

package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func toDenseMat(t *testing.T, g *graph.Unit, w *tensor.Dense) *mat.Dense {
	t.Helper()
	d := mat.NewDense(g.NumSrc(), g.NumDst(), nil)
	indptr, indices, eid, err := g.CSR()
	require.NoError(t, err)
	ip, ix, ed := indptr.Data(), indices.Data(), eid.Data()
	for i := 0; i < g.NumSrc(); i++ {
		for p := ip[i]; p < ip[i+1]; p++ {
			d.Set(i, int(ix[p]), d.At(i, int(ix[p]))+float64(w.Data()[ed[p]]))
		}
	}
	return d
}

func randWeighted(t *testing.T, rng *rand.Rand, numSrc, numDst, numEdges int) (*graph.Unit, *tensor.Dense) {
	g := randGraph(t, rng, numSrc, numDst, numEdges)
	w := randDense(rng, numEdges)
	return g, w
}

func TestCSRMMDenseEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a, wa := randWeighted(t, rng, 5, 4, 11)
	b, wb := randWeighted(t, rng, 4, 6, 9)

	c, wc, _, err := CSRMM(a, wa, b, wb)
	require.NoError(t, err)

	var want mat.Dense
	want.Mul(toDenseMat(t, a, wa), toDenseMat(t, b, wb))
	got := toDenseMat(t, c, wc)
	for i := 0; i < 5; i++ {
		for j := 0; j < 6; j++ {
			assert.InDelta(t, want.At(i, j), got.At(i, j), 1e-4, "(%d,%d)", i, j)
		}
	}
}

func TestCSRMMEmptyOperand(t *testing.T) {
	a, err := graph.FromCOOInts(3, 2, nil, nil)
	require.NoError(t, err)
	b, err := graph.FromCOOInts(2, 4, []int64{0, 1}, []int64{1, 2})
	require.NoError(t, err)
	c, wc, _, err := CSRMM(a, tensor.Zeros(0), b, tensor.Full(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, c.NumEdges())
	assert.Equal(t, 0, wc.Len())
	assert.Equal(t, 3, c.NumSrc())
	assert.Equal(t, 4, c.NumDst())
}

func TestCSRMMBackwardFiniteDiff(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	a, wa := randWeighted(t, rng, 4, 3, 7)
	b, wb := randWeighted(t, rng, 3, 4, 6)

	_, wc, ctx, err := CSRMM(a, wa, b, wb)
	require.NoError(t, err)
	dC := tensor.Full(1, wc.Len())
	dwa, dwb, err := CSRMMBackward(ctx, dC)
	require.NoError(t, err)

	loss := func() float64 {
		_, w, _, err := CSRMM(a, wa, b, wb)
		require.NoError(t, err)
		var s float64
		for _, v := range w.Data() {
			s += float64(v)
		}
		return s
	}
	const eps = 1e-2
	for i := 0; i < wa.Len(); i++ {
		orig := wa.Data()[i]
		wa.Data()[i] = orig + eps
		up := loss()
		wa.Data()[i] = orig - eps
		down := loss()
		wa.Data()[i] = orig
		assert.InDelta(t, (up-down)/(2*eps), float64(dwa.Data()[i]), 5e-2, "dwa[%d]", i)
	}
	for i := 0; i < wb.Len(); i++ {
		orig := wb.Data()[i]
		wb.Data()[i] = orig + eps
		up := loss()
		wb.Data()[i] = orig - eps
		down := loss()
		wb.Data()[i] = orig
		assert.InDelta(t, (up-down)/(2*eps), float64(dwb.Data()[i]), 5e-2, "dwb[%d]", i)
	}
}

func TestCSRSum(t *testing.T) {
	g1, err := graph.FromCOOInts(2, 2, []int64{0, 1}, []int64{0, 1})
	require.NoError(t, err)
	g2, err := graph.FromCOOInts(2, 2, []int64{0, 1}, []int64{0, 0})
	require.NoError(t, err)
	w1 := tensor.FromSlice([]float32{1, 2})
	w2 := tensor.FromSlice([]float32{10, 20})

	c, wc, ctx, err := CSRSum([]*graph.Unit{g1, g2}, []*tensor.Dense{w1, w2})
	require.NoError(t, err)
	// Union pattern: (0,0)=1+10, (1,0)=20, (1,1)=2.
	assert.Equal(t, 3, c.NumEdges())
	got := toDenseMat(t, c, wc)
	assert.InDelta(t, 11, got.At(0, 0), 1e-6)
	assert.InDelta(t, 20, got.At(1, 0), 1e-6)
	assert.InDelta(t, 2, got.At(1, 1), 1e-6)

	grads, err := CSRSumBackward(ctx, tensor.FromSlice([]float32{1, 2, 3}))
	require.NoError(t, err)
	// c's CSR order: (0,0)->1, (1,0)->2, (1,1)->3.
	assert.Equal(t, []float32{1, 3}, grads[0].Data())
	assert.Equal(t, []float32{1, 2}, grads[1].Data())
}

func TestCSRMaskIntersection(t *testing.T) {
	// A holds weights on (0,0),(0,1),(1,1); B asks for (0,1),(1,0),(1,1).
	gA, err := graph.FromCOOInts(2, 2, []int64{0, 0, 1}, []int64{0, 1, 1})
	require.NoError(t, err)
	wA := tensor.FromSlice([]float32{5, 6, 7})
	gB, err := graph.FromCOOInts(2, 2, []int64{0, 1, 1}, []int64{1, 0, 1})
	require.NoError(t, err)

	out, ctx, err := CSRMask(gA, wA, gB)
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 0, 7}, out.Data())

	dw, err := CSRMaskBackward(ctx, tensor.FromSlice([]float32{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 3}, dw.Data())
}

package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func TestGSDDMMElementwise(t *testing.T) {
	g, err := graph.FromCOOInts(3, 3, []int64{0, 1, 2}, []int64{1, 2, 0})
	require.NoError(t, err)
	u := tensor.FromSlice([]float32{1, 2, 3})
	v := tensor.FromSlice([]float32{10, 20, 30})

	out, _, err := GSDDMM(g, OpAdd, u, v, TargetU, TargetV)
	require.NoError(t, err)
	// edge e: u[src[e]] + v[dst[e]]
	assert.Equal(t, []float32{1 + 20, 2 + 30, 3 + 10}, out.Data())

	out, _, err = GSDDMM(g, OpCopyLhs, u, nil, TargetU, TargetE)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, out.Data())
}

func TestGSDDMMDot(t *testing.T) {
	g, err := graph.FromCOOInts(2, 2, []int64{0, 1}, []int64{1, 0})
	require.NoError(t, err)
	u, err := tensor.NewDense([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	v, err := tensor.NewDense([]int{2, 3}, []float32{1, 1, 1, 2, 2, 2})
	require.NoError(t, err)
	out, _, err := GSDDMM(g, OpDot, u, v, TargetU, TargetV)
	require.NoError(t, err)
	// e0: u[0].v[1] = (1+2+3)*2 = 12; e1: u[1].v[0] = 4+5+6 = 15.
	assert.Equal(t, []int{2}, out.Shape())
	assert.Equal(t, []float32{12, 15}, out.Data())
}

func TestGSDDMMBackwardFiniteDiff(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const numSrc, numDst, numEdges, dim = 4, 3, 8, 2
	g := randGraph(t, rng, numSrc, numDst, numEdges)
	u := randDense(rng, numSrc, dim)
	ev := randDense(rng, numEdges, dim)
	for i := range ev.Data() {
		if v := ev.Data()[i]; v > -0.5 && v < 0.5 {
			ev.Data()[i] = v + 1
		}
	}

	cases := []struct {
		op                   OpKind
		lhs, rhs             *tensor.Dense
		lhsTarget, rhsTarget Target
	}{
		{OpMul, u, ev, TargetU, TargetE},
		{OpDiv, u, ev, TargetU, TargetE},
		{OpSub, u, ev, TargetV, TargetE},
		{OpDot, u, nil, TargetU, TargetV},
	}
	for _, c := range cases {
		lhs, rhs := c.lhs, c.rhs
		if c.lhsTarget == TargetV {
			lhs = randDense(rng, numDst, dim)
		}
		if rhs == nil {
			rhs = randDense(rng, numDst, dim)
		}
		out, ctx, err := GSDDMM(g, c.op, lhs, rhs, c.lhsTarget, c.rhsTarget)
		require.NoError(t, err)
		dout := tensor.Full(1, out.Shape()...)
		dlhs, drhs, err := GSDDMMBackward(ctx, dout)
		require.NoError(t, err)

		loss := func() float64 {
			o, _, err := GSDDMM(g, c.op, lhs, rhs, c.lhsTarget, c.rhsTarget)
			require.NoError(t, err)
			var s float64
			for _, v := range o.Data() {
				s += float64(v)
			}
			return s
		}
		const eps = 1e-2
		check := func(param *tensor.Dense, grad *tensor.Dense, name string) {
			for i := 0; i < param.Len(); i += 3 {
				orig := param.Data()[i]
				param.Data()[i] = orig + eps
				up := loss()
				param.Data()[i] = orig - eps
				down := loss()
				param.Data()[i] = orig
				assert.InDelta(t, (up-down)/(2*eps), float64(grad.Data()[i]), 5e-2,
					"op %s %s[%d]", c.op, name, i)
			}
		}
		check(lhs, dlhs, "dlhs")
		check(rhs, drhs, "drhs")
	}
}

func TestGSDDMMRowCountValidation(t *testing.T) {
	g, err := graph.FromCOOInts(2, 2, []int64{0}, []int64{1})
	require.NoError(t, err)
	_, _, err = GSDDMM(g, OpAdd, tensor.Zeros(3), tensor.Zeros(2), TargetU, TargetV)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

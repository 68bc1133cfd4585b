package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/hetero"
	"github.com/23skdu/longbow-quiver/internal/kernel"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// chain 0->1, 1->2 plus a parallel edge 0->2.
func testGraph(t *testing.T) *hetero.Graph {
	t.Helper()
	g, err := hetero.NewGraph([]hetero.RelationEdges{{
		Triple: hetero.Triple{SrcType: "n", Rel: "to", DstType: "n"},
		Src:    []int64{0, 1, 0},
		Dst:    []int64{1, 2, 2},
	}}, nil)
	require.NoError(t, err)
	nd, err := g.NodeData("n")
	require.NoError(t, err)
	require.NoError(t, nd.Set("h", tensor.FromSlice([]float32{10, 20, 30})))
	ed, err := g.EdgeData("to")
	require.NoError(t, err)
	require.NoError(t, ed.Set("w", tensor.FromSlice([]float32{2, 3, 4})))
	return g
}

// udfSum mirrors the builtin sum so the paths can be compared.
type udfSum struct{ msg, out string }

func (r udfSum) Name() string     { return "udf-sum" }
func (r udfSum) MsgField() string { return r.msg }
func (r udfSum) OutField() string { return r.out }
func (r udfSum) Compute(b *NodeBatch) (*tensor.Dense, error) {
	fs := b.Messages.FeatSize() / b.Deg
	out := tensor.Zeros(len(b.Nodes), fs)
	for i := range b.Nodes {
		for j := 0; j < b.Deg; j++ {
			for p := 0; p < fs; p++ {
				out.Data()[i*fs+p] += b.Messages.Data()[(i*b.Deg+j)*fs+p]
			}
		}
	}
	return out, nil
}

// udfScaledCopy emits 2*src as the message.
type udfScaledCopy struct{ src, out string }

func (m udfScaledCopy) Name() string      { return "udf-scaled-copy" }
func (m udfScaledCopy) SrcField() string  { return m.src }
func (m udfScaledCopy) DstField() string  { return "" }
func (m udfScaledCopy) EdgeField() string { return "" }
func (m udfScaledCopy) OutField() string  { return m.out }
func (m udfScaledCopy) Compute(b *EdgeBatch) (*tensor.Dense, error) {
	out := b.Src.Clone()
	for i := range out.Data() {
		out.Data()[i] *= 2
	}
	return out, nil
}

func TestFusedCopySum(t *testing.T) {
	g := testGraph(t)
	err := UpdateAll(context.Background(), g, "to", CopyU("h", "m"), Sum("m", "agg"), nil)
	require.NoError(t, err)

	nd, _ := g.NodeData("n")
	out, err := nd.Get("agg")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 10, 30}, out.Data())
}

func TestFusedBinaryMax(t *testing.T) {
	g := testGraph(t)
	err := UpdateAll(context.Background(), g, "to", Binary(kernel.OpMul, "h", "w", "m"), Max("m", "agg"), nil)
	require.NoError(t, err)

	nd, _ := g.NodeData("n")
	out, err := nd.Get("agg")
	require.NoError(t, err)
	// node 1 <- 10*2; node 2 <- max(20*3, 10*4); node 0 has no in-edges.
	assert.Equal(t, []float32{20, 60}, out.Data()[1:])
}

func TestPartialPathMatchesFused(t *testing.T) {
	g := testGraph(t)
	require.NoError(t, UpdateAll(context.Background(), g, "to",
		Binary(kernel.OpMul, "h", "w", "m"), Sum("m", "fused"), nil))
	require.NoError(t, UpdateAll(context.Background(), g, "to",
		Binary(kernel.OpMul, "h", "w", "m"), udfSum{msg: "m", out: "partial"}, nil))

	nd, _ := g.NodeData("n")
	fused, err := nd.Get("fused")
	require.NoError(t, err)
	partial, err := nd.Get("partial")
	require.NoError(t, err)
	assert.Equal(t, fused.Data(), partial.Data())
	assert.Equal(t, []float32{0, 20, 100}, partial.Data())
}

func TestFullUDFPath(t *testing.T) {
	g := testGraph(t)
	err := UpdateAll(context.Background(), g, "to",
		udfScaledCopy{src: "h", out: "m"}, udfSum{msg: "m", out: "agg"}, nil)
	require.NoError(t, err)

	nd, _ := g.NodeData("n")
	out, err := nd.Get("agg")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 20, 60}, out.Data())
}

func TestApplyHook(t *testing.T) {
	g := testGraph(t)
	err := UpdateAll(context.Background(), g, "to", CopyU("h", "m"), Sum("m", "agg"),
		func(out *tensor.Dense) (*tensor.Dense, error) {
			for i := range out.Data() {
				out.Data()[i] += 1
			}
			return out, nil
		})
	require.NoError(t, err)

	nd, _ := g.NodeData("n")
	out, err := nd.Get("agg")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 11, 31}, out.Data())
}

func TestFieldMismatchFailsFast(t *testing.T) {
	g := testGraph(t)
	err := UpdateAll(context.Background(), g, "to", CopyU("h", "m"), Sum("other", "agg"), nil)
	assert.ErrorIs(t, err, tensor.ErrFieldMismatch)

	nd, _ := g.NodeData("n")
	assert.False(t, nd.Has("agg"), "nothing is written on a mismatch")
}

func TestMissingFieldErrors(t *testing.T) {
	g := testGraph(t)
	err := UpdateAll(context.Background(), g, "to", CopyU("missing", "m"), Sum("m", "agg"), nil)
	assert.ErrorIs(t, err, tensor.ErrTypeNotFound)
}

package kernel

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/simd"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// SoftmaxAxis selects the normalization group of an edge-softmax.
type SoftmaxAxis int

const (
	// ByDst normalizes over the in-edges of each destination node.
	ByDst SoftmaxAxis = iota
	// BySrc normalizes over the out-edges of each source node.
	BySrc
)

// SoftmaxCtx saves the forward output; the backward pass needs nothing else.
type SoftmaxCtx struct {
	Graph *graph.Unit
	Out   *tensor.Dense
}

// EdgeSoftmax normalizes per-edge scores so that the incoming edges of every
// destination node sum to one. It is purely compositional over gSpMM and
// gSDDMM: per-group max, subtract, exponentiate, per-group sum, divide.
// Nodes with no edges contribute no output positions at all; no NaNs are
// produced for empty groups.
func EdgeSoftmax(g *graph.Unit, scores *tensor.Dense, axis SoftmaxAxis) (*tensor.Dense, *SoftmaxCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("edge_softmax"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("edge_softmax", "forward").Inc()

	if axis == BySrc {
		// The backward group sums must run over the same reversed graph, so
		// the context keeps the reversed handle.
		return EdgeSoftmax(g.Reverse(), scores, ByDst)
	}

	smax, _, err := GSpMM(g, OpCopyRhs, ReduceMax, nil, scores)
	if err != nil {
		return nil, nil, err
	}
	shifted, _, err := GSDDMM(g, OpSub, scores, smax, TargetE, TargetV)
	if err != nil {
		return nil, nil, err
	}
	simd.Exp32(shifted.Data())
	ssum, _, err := GSpMM(g, OpCopyRhs, ReduceSum, nil, shifted)
	if err != nil {
		return nil, nil, err
	}
	out, _, err := GSDDMM(g, OpDiv, shifted, ssum, TargetE, TargetV)
	if err != nil {
		return nil, nil, err
	}
	return out, &SoftmaxCtx{Graph: g, Out: out}, nil
}

// EdgeSoftmaxBackward applies the softmax Jacobian identity
// dx = s*dy - s*(sum over the group of s*dy), again built only from
// gSpMM/gSDDMM on the forward output.
func EdgeSoftmaxBackward(ctx *SoftmaxCtx, dout *tensor.Dense) (*tensor.Dense, error) {
	kernelCalls.WithLabelValues("edge_softmax", "backward").Inc()
	g := ctx.Graph
	sds := ctx.Out.Clone()
	simd.Mul32(sds.Data(), dout.Data())
	accum, _, err := GSpMM(g, OpCopyRhs, ReduceSum, nil, sds)
	if err != nil {
		return nil, err
	}
	term, _, err := GSDDMM(g, OpMul, ctx.Out, accum, TargetE, TargetV)
	if err != nil {
		return nil, err
	}
	simd.Sub32(sds.Data(), term.Data())
	return sds, nil
}

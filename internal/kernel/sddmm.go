package kernel

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// SDDMMCtx is the saved state of a GSDDMM call.
type SDDMMCtx struct {
	Graph                *graph.Unit
	Op                   OpKind
	LhsTarget, RhsTarget Target
	Lhs, Rhs             *tensor.Dense

	lhsFeat, rhsFeat []int
	// bFeat is the broadcast feature shape before the dot reduction;
	// outFeat is the produced per-edge shape (bFeat minus the last axis for
	// dot, bFeat otherwise).
	bFeat, outFeat []int
}

// GSDDMM produces one array bound to edges: out[e] = op(lhs[i], rhs[j]),
// where i and j follow the operands' target bindings (source node,
// destination node, or the edge itself). OpDot treats the trailing dimension
// as a row vector and contracts it to a scalar.
func GSDDMM(g *graph.Unit, op OpKind, lhs, rhs *tensor.Dense, lhsTarget, rhsTarget Target) (*tensor.Dense, *SDDMMCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("gsddmm"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("gsddmm", "forward").Inc()
	kernelEdges.WithLabelValues("gsddmm").Add(float64(g.NumEdges()))

	var lhsFeat, rhsFeat []int
	if op.UsesLhs() {
		if lhs == nil {
			return nil, nil, fmt.Errorf("%w: op %s requires a lhs operand", tensor.ErrShapeMismatch, op)
		}
		if err := checkOperand(g, lhs, lhsTarget, "lhs"); err != nil {
			return nil, nil, err
		}
		lhsFeat = lhs.FeatShape()
	}
	if op.UsesRhs() {
		if rhs == nil {
			return nil, nil, fmt.Errorf("%w: op %s requires a rhs operand", tensor.ErrShapeMismatch, op)
		}
		if err := checkOperand(g, rhs, rhsTarget, "rhs"); err != nil {
			return nil, nil, err
		}
		rhsFeat = rhs.FeatShape()
	}

	bFeat, err := broadcastFor(op, lhsFeat, rhsFeat)
	if err != nil {
		return nil, nil, err
	}
	outFeat := bFeat
	reduceLast := 1
	if op == OpDot {
		if len(bFeat) == 0 {
			return nil, nil, fmt.Errorf("%w: dot needs at least one feature axis", tensor.ErrShapeMismatch)
		}
		reduceLast = bFeat[len(bFeat)-1]
		outFeat = bFeat[:len(bFeat)-1]
	}

	src, dst, err := g.COO()
	if err != nil {
		return nil, nil, err
	}

	ctx := &SDDMMCtx{Graph: g, Op: op, LhsTarget: lhsTarget, RhsTarget: rhsTarget,
		Lhs: lhs, Rhs: rhs, lhsFeat: lhsFeat, rhsFeat: rhsFeat, bFeat: bFeat, outFeat: outFeat}

	bfs := featSize(bFeat)
	ofs := featSize(outFeat)
	out := tensor.Zeros(append([]int{g.NumEdges()}, outFeat...)...)

	var lOffs, rOffs []int
	var ld, rd []float32
	lfs, rfs := 0, 0
	if op.UsesLhs() {
		lOffs = tensor.BroadcastOffsets(bFeat, tensor.BroadcastStrides(lhsFeat, bFeat))
		ld, lfs = lhs.Data(), lhs.FeatSize()
	}
	if op.UsesRhs() {
		rOffs = tensor.BroadcastOffsets(bFeat, tensor.BroadcastStrides(rhsFeat, bFeat))
		rd, rfs = rhs.Data(), rhs.FeatSize()
	}

	sd, dd := src.Data(), dst.Data()
	od := out.Data()

	parallelFor(g.NumEdges(), func(lo, hi int) {
		for e := lo; e < hi; e++ {
			li := rowFor(lhsTarget, sd, dd, e)
			ri := rowFor(rhsTarget, sd, dd, e)
			for p := 0; p < bfs; p++ {
				var l, r float32
				if ld != nil {
					l = ld[li*lfs+lOffs[p]]
				}
				if rd != nil {
					r = rd[ri*rfs+rOffs[p]]
				}
				if op == OpDot {
					od[e*ofs+p/reduceLast] += l * r
				} else {
					od[e*ofs+p] = apply(op, l, r)
				}
			}
		}
	})
	return out, ctx, nil
}

func rowFor(t Target, src, dst []int64, e int) int {
	switch t {
	case TargetU:
		return int(src[e])
	case TargetV:
		return int(dst[e])
	default:
		return e
	}
}

// GSDDMMBackward routes gradients by operand binding: edge-bound operands
// get a direct elementwise map, node-bound operands additionally reduce the
// per-edge gradient onto nodes through a copy-rhs/sum gSpMM on the (possibly
// reversed) graph.
func GSDDMMBackward(ctx *SDDMMCtx, dout *tensor.Dense) (dlhs, drhs *tensor.Dense, err error) {
	kernelCalls.WithLabelValues("gsddmm", "backward").Inc()
	g := ctx.Graph
	if dout.Rows() != g.NumEdges() {
		return nil, nil, fmt.Errorf("%w: output grad has %d rows, graph has %d edges",
			tensor.ErrShapeMismatch, dout.Rows(), g.NumEdges())
	}

	doutB := dout
	if ctx.Op == OpDot {
		// Re-expand the contracted axis so the per-edge gradients broadcast
		// against the full pre-reduction shape.
		doutB, err = dout.Reshape(append(append([]int{dout.Rows()}, ctx.outFeat...), 1)...)
		if err != nil {
			return nil, nil, err
		}
	}

	if ctx.Op.UsesLhs() {
		var edgeGrad *tensor.Dense
		switch ctx.Op {
		case OpMul, OpDot:
			edgeGrad, _, err = GSDDMM(g, OpMul, doutB, ctx.Rhs, TargetE, ctx.RhsTarget)
		case OpDiv:
			edgeGrad, _, err = GSDDMM(g, OpDiv, doutB, ctx.Rhs, TargetE, ctx.RhsTarget)
		default: // add, sub, copy_lhs
			edgeGrad = doutB
		}
		if err != nil {
			return nil, nil, err
		}
		dlhs, err = routeEdgeGrad(g, edgeGrad, ctx.LhsTarget, ctx.lhsFeat)
		if err != nil {
			return nil, nil, err
		}
	}
	if ctx.Op.UsesRhs() {
		var edgeGrad *tensor.Dense
		switch ctx.Op {
		case OpMul, OpDot:
			edgeGrad, _, err = GSDDMM(g, OpMul, doutB, ctx.Lhs, TargetE, ctx.LhsTarget)
		case OpDiv:
			edgeGrad, _, err = GSDDMM(g, OpMul, doutB, ctx.Lhs, TargetE, ctx.LhsTarget)
			if err == nil {
				var rhsAtE *tensor.Dense
				rhsAtE, _, err = GSDDMM(g, OpCopyLhs, ctx.Rhs, nil, ctx.RhsTarget, TargetE)
				if err == nil {
					err = scaleByRhsSquaredNeg(edgeGrad, rhsAtE)
				}
			}
		case OpSub:
			edgeGrad = doutB.Clone()
			neg(edgeGrad)
		default: // add, copy_rhs
			edgeGrad = doutB
		}
		if err != nil {
			return nil, nil, err
		}
		drhs, err = routeEdgeGrad(g, edgeGrad, ctx.RhsTarget, ctx.rhsFeat)
		if err != nil {
			return nil, nil, err
		}
	}
	return dlhs, drhs, nil
}

func routeEdgeGrad(g *graph.Unit, edgeGrad *tensor.Dense, t Target, feat []int) (*tensor.Dense, error) {
	switch t {
	case TargetE:
		return tensor.ReduceGrad(edgeGrad, g.NumEdges(), feat), nil
	case TargetU:
		full, _, err := GSpMM(g.Reverse(), OpCopyRhs, ReduceSum, nil, edgeGrad)
		if err != nil {
			return nil, err
		}
		return tensor.ReduceGrad(full, g.NumSrc(), feat), nil
	default: // TargetV
		full, _, err := GSpMM(g, OpCopyRhs, ReduceSum, nil, edgeGrad)
		if err != nil {
			return nil, err
		}
		return tensor.ReduceGrad(full, g.NumDst(), feat), nil
	}
}

package kernel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// numWorkers defines the default parallelism for CPU kernels.
var numWorkers = runtime.NumCPU()

// SpMMCtx carries the state Backward needs to replay a GSpMM call: the graph
// handle, the chosen ops, the saved operands, and (for max/min) the
// arg-indices of the selected edges.
type SpMMCtx struct {
	Graph  *graph.Unit
	Op     OpKind
	Reduce ReduceKind

	X, Y *tensor.Dense

	// ArgU[v*featSize+p] / ArgE[v*featSize+p] record which source node and
	// edge produced the max/min at destination v, feature position p.
	// -1 marks zero-in-degree rows. Nil for sum reduce.
	ArgU, ArgE *tensor.Index

	xFeat, yFeat, outFeat []int
}

// GSpMM reduces, for every destination node v, op(x[u], y[e]) over the
// incoming edges (u, e, v). x is bound to source nodes, y to edges; either
// may be nil when the op ignores that side (copy_lhs / copy_rhs). Trailing
// feature dimensions broadcast under the dense-array rule.
//
// A destination with no in-edges yields 0 under sum and the -Inf/+Inf
// sentinel under max/min; zero in-degree is never an error here. Callers
// wanting check-and-raise semantics must inspect InDegrees themselves.
func GSpMM(g *graph.Unit, op OpKind, reduce ReduceKind, x, y *tensor.Dense) (*tensor.Dense, *SpMMCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("gspmm"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("gspmm", "forward").Inc()
	kernelEdges.WithLabelValues("gspmm").Add(float64(g.NumEdges()))

	if op == OpDot {
		return nil, nil, fmt.Errorf("%w: dot is a gSDDMM op", tensor.ErrShapeMismatch)
	}
	var xFeat, yFeat []int
	if op.UsesLhs() {
		if x == nil {
			return nil, nil, fmt.Errorf("%w: op %s requires a lhs operand", tensor.ErrShapeMismatch, op)
		}
		if err := checkOperand(g, x, TargetU, "lhs"); err != nil {
			return nil, nil, err
		}
		xFeat = x.FeatShape()
	}
	if op.UsesRhs() {
		if y == nil {
			return nil, nil, fmt.Errorf("%w: op %s requires a rhs operand", tensor.ErrShapeMismatch, op)
		}
		if err := checkOperand(g, y, TargetE, "rhs"); err != nil {
			return nil, nil, err
		}
		yFeat = y.FeatShape()
	}
	outFeat, err := broadcastFor(op, xFeat, yFeat)
	if err != nil {
		return nil, nil, err
	}

	indptr, indices, eid, err := g.CSC()
	if err != nil {
		return nil, nil, err
	}

	fs := featSize(outFeat)
	out := tensor.Zeros(append([]int{g.NumDst()}, outFeat...)...)
	ctx := &SpMMCtx{Graph: g, Op: op, Reduce: reduce, X: x, Y: y,
		xFeat: xFeat, yFeat: yFeat, outFeat: outFeat}

	var xOffs, yOffs []int
	var xd, yd []float32
	xfs, yfs := 0, 0
	if op.UsesLhs() {
		xOffs = tensor.BroadcastOffsets(outFeat, tensor.BroadcastStrides(xFeat, outFeat))
		xd, xfs = x.Data(), x.FeatSize()
	}
	if op.UsesRhs() {
		yOffs = tensor.BroadcastOffsets(outFeat, tensor.BroadcastStrides(yFeat, outFeat))
		yd, yfs = y.Data(), y.FeatSize()
	}

	var argU, argE []int64
	if reduce != ReduceSum {
		argU = make([]int64, g.NumDst()*fs)
		argE = make([]int64, g.NumDst()*fs)
		for i := range argU {
			argU[i], argE[i] = -1, -1
		}
		ctx.ArgU = tensor.NewIndex(g.Width(), argU)
		ctx.ArgE = tensor.NewIndex(g.Width(), argE)
	}

	ip, ix, ed := indptr.Data(), indices.Data(), eid.Data()
	od := out.Data()
	init := reduceInit(reduce)

	parallelFor(g.NumDst(), func(lo, hi int) {
		for v := lo; v < hi; v++ {
			row := od[v*fs : (v+1)*fs]
			for p := range row {
				row[p] = init
			}
			for ptr := ip[v]; ptr < ip[v+1]; ptr++ {
				u, e := ix[ptr], ed[ptr]
				for p := 0; p < fs; p++ {
					var l, r float32
					if xd != nil {
						l = xd[int(u)*xfs+xOffs[p]]
					}
					if yd != nil {
						r = yd[int(e)*yfs+yOffs[p]]
					}
					val := apply(op, l, r)
					switch reduce {
					case ReduceSum:
						row[p] += val
					case ReduceMax:
						if val > row[p] {
							row[p] = val
							argU[v*fs+p], argE[v*fs+p] = u, e
						}
					case ReduceMin:
						if val < row[p] {
							row[p] = val
							argU[v*fs+p], argE[v*fs+p] = u, e
						}
					}
				}
			}
		}
	})
	return out, ctx, nil
}

// GSpMMBackward computes input gradients from the forward context. For sum
// reduce the gradients are closed-form compositions of gSpMM/gSDDMM on the
// reverse graph; for max/min the saved arg-indices replay the selection and
// the gradient scatters to exactly the winning edge.
func GSpMMBackward(ctx *SpMMCtx, dout *tensor.Dense) (dx, dy *tensor.Dense, err error) {
	kernelCalls.WithLabelValues("gspmm", "backward").Inc()
	g := ctx.Graph
	if dout.Rows() != g.NumDst() {
		return nil, nil, fmt.Errorf("%w: output grad has %d rows, graph has %d destinations",
			tensor.ErrShapeMismatch, dout.Rows(), g.NumDst())
	}
	if ctx.Reduce == ReduceSum {
		return spmmBackwardSum(ctx, dout)
	}
	return spmmBackwardArg(ctx, dout)
}

func spmmBackwardSum(ctx *SpMMCtx, dout *tensor.Dense) (dx, dy *tensor.Dense, err error) {
	g := ctx.Graph
	if ctx.Op.UsesLhs() {
		rev := g.Reverse()
		var full *tensor.Dense
		switch ctx.Op {
		case OpMul:
			full, _, err = GSpMM(rev, OpMul, ReduceSum, dout, ctx.Y)
		case OpDiv:
			full, _, err = GSpMM(rev, OpDiv, ReduceSum, dout, ctx.Y)
		default: // add, sub, copy_lhs: d/dx is identity
			full, _, err = GSpMM(rev, OpCopyLhs, ReduceSum, dout, nil)
		}
		if err != nil {
			return nil, nil, err
		}
		dx = tensor.ReduceGrad(full, g.NumSrc(), ctx.xFeat)
	}
	if ctx.Op.UsesRhs() {
		var full *tensor.Dense
		switch ctx.Op {
		case OpMul:
			full, _, err = GSDDMM(g, OpMul, dout, ctx.X, TargetV, TargetU)
		case OpDiv:
			// d/dy (x/y) = -x/y^2: take dout*x per edge, then divide twice
			// by the gathered y with a sign flip.
			full, _, err = GSDDMM(g, OpMul, dout, ctx.X, TargetV, TargetU)
			if err == nil {
				err = scaleByRhsSquaredNeg(full, ctx.Y)
			}
		case OpSub:
			full, _, err = GSDDMM(g, OpCopyLhs, dout, nil, TargetV, TargetE)
			if err == nil {
				neg(full)
			}
		default: // add, copy_rhs
			full, _, err = GSDDMM(g, OpCopyLhs, dout, nil, TargetV, TargetE)
		}
		if err != nil {
			return nil, nil, err
		}
		dy = tensor.ReduceGrad(full, g.NumEdges(), ctx.yFeat)
	}
	return dx, dy, nil
}

func spmmBackwardArg(ctx *SpMMCtx, dout *tensor.Dense) (dx, dy *tensor.Dense, err error) {
	g := ctx.Graph
	fs := featSize(ctx.outFeat)
	dd := dout.Data()
	argU, argE := ctx.ArgU.Data(), ctx.ArgE.Data()

	var xOffs, yOffs []int
	var xd, yd []float32
	xfs, yfs := 0, 0
	if ctx.Op.UsesLhs() {
		xOffs = tensor.BroadcastOffsets(ctx.outFeat, tensor.BroadcastStrides(ctx.xFeat, ctx.outFeat))
		xd, xfs = ctx.X.Data(), ctx.X.FeatSize()
		dx = tensor.Zeros(append([]int{g.NumSrc()}, ctx.xFeat...)...)
	}
	if ctx.Op.UsesRhs() {
		yOffs = tensor.BroadcastOffsets(ctx.outFeat, tensor.BroadcastStrides(ctx.yFeat, ctx.outFeat))
		yd, yfs = ctx.Y.Data(), ctx.Y.FeatSize()
		dy = tensor.Zeros(append([]int{g.NumEdges()}, ctx.yFeat...)...)
	}

	for v := 0; v < g.NumDst(); v++ {
		for p := 0; p < fs; p++ {
			u, e := argU[v*fs+p], argE[v*fs+p]
			if e < 0 {
				continue // zero-in-degree sentinel row
			}
			gd := dd[v*fs+p]
			var l, r float32
			if xd != nil {
				l = xd[int(u)*xfs+xOffs[p]]
			}
			if yd != nil {
				r = yd[int(e)*yfs+yOffs[p]]
			}
			if dx != nil {
				dx.Data()[int(u)*xfs+xOffs[p]] += gd * lhsPartial(ctx.Op, l, r)
			}
			if dy != nil {
				dy.Data()[int(e)*yfs+yOffs[p]] += gd * rhsPartial(ctx.Op, l, r)
			}
		}
	}
	return dx, dy, nil
}

func lhsPartial(op OpKind, _, r float32) float32 {
	switch op {
	case OpMul:
		return r
	case OpDiv:
		return 1 / r
	default: // add, sub, copy_lhs
		return 1
	}
}

func rhsPartial(op OpKind, l, r float32) float32 {
	switch op {
	case OpMul:
		return l
	case OpDiv:
		return -l / (r * r)
	case OpSub:
		return -1
	default: // add, copy_rhs
		return 1
	}
}

func apply(op OpKind, l, r float32) float32 {
	switch op {
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpCopyLhs:
		return l
	default: // copy_rhs
		return r
	}
}

func broadcastFor(op OpKind, lhsFeat, rhsFeat []int) ([]int, error) {
	switch op {
	case OpCopyLhs:
		return lhsFeat, nil
	case OpCopyRhs:
		return rhsFeat, nil
	default:
		return tensor.BroadcastShape(lhsFeat, rhsFeat)
	}
}

func featSize(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func neg(t *tensor.Dense) {
	d := t.Data()
	for i := range d {
		d[i] = -d[i]
	}
}

// scaleByRhsSquaredNeg rewrites t[e,p] to -t[e,p]/y[e,p]^2, broadcasting y's
// feature shape over t's.
func scaleByRhsSquaredNeg(t *tensor.Dense, y *tensor.Dense) error {
	outFeat := t.FeatShape()
	offs := tensor.BroadcastOffsets(outFeat, tensor.BroadcastStrides(y.FeatShape(), outFeat))
	td, yd := t.Data(), y.Data()
	fs, yfs := t.FeatSize(), y.FeatSize()
	for e := 0; e < t.Rows(); e++ {
		for p := 0; p < fs; p++ {
			r := yd[e*yfs+offs[p]]
			td[e*fs+p] = -td[e*fs+p] / (r * r)
		}
	}
	return nil
}

// parallelFor fans a contiguous range out across numWorkers goroutines,
// matching the data-parallel model: the caller observes one synchronous call.
func parallelFor(n int, fn func(lo, hi int)) {
	if n == 0 {
		return
	}
	workers := numWorkers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

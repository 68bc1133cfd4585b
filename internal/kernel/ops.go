// Package kernel implements the generalized sparse primitives every
// higher-level graph operator compiles down to: gSpMM, gSDDMM, edge-softmax,
// segment reduction, and CSR algebra (product, sum, mask). Each primitive is
// an explicit differentiable-operator pair: Forward returns an output plus a
// small context struct (graph handle, chosen ops, saved tensors and
// arg-indices), and the matching Backward consumes that context. There is no
// ambient autograd tape; a host autograd system binds these pairs directly.
package kernel

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// OpKind is the elementwise operator applied per edge.
type OpKind int

const (
	OpMul OpKind = iota
	OpDiv
	OpAdd
	OpSub
	OpCopyLhs
	OpCopyRhs
	OpDot
)

func (o OpKind) String() string {
	switch o {
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpCopyLhs:
		return "copy_lhs"
	case OpCopyRhs:
		return "copy_rhs"
	case OpDot:
		return "dot"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// UsesLhs reports whether the op reads its left operand.
func (o OpKind) UsesLhs() bool { return o != OpCopyRhs }

// UsesRhs reports whether the op reads its right operand.
func (o OpKind) UsesRhs() bool { return o != OpCopyLhs }

// ReduceKind is the per-destination (or per-segment) reduction.
type ReduceKind int

const (
	ReduceSum ReduceKind = iota
	ReduceMax
	ReduceMin
)

func (r ReduceKind) String() string {
	switch r {
	case ReduceSum:
		return "sum"
	case ReduceMax:
		return "max"
	case ReduceMin:
		return "min"
	}
	return fmt.Sprintf("reduce(%d)", int(r))
}

// Target binds an operand to source nodes, destination nodes, or edges.
type Target int

const (
	TargetU Target = iota // source nodes
	TargetV               // destination nodes
	TargetE               // edges
)

func (t Target) String() string {
	switch t {
	case TargetU:
		return "u"
	case TargetV:
		return "v"
	case TargetE:
		return "e"
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// ComputeCtx is the ephemeral operand-role binding of one generalized kernel
// call. It is reconstructed per call from the message/reduce pair, never
// persisted.
type ComputeCtx struct {
	LhsTarget, RhsTarget Target
	Op                   OpKind
	Reduce               ReduceKind
}

func targetRows(g *graph.Unit, t Target) int {
	switch t {
	case TargetU:
		return g.NumSrc()
	case TargetV:
		return g.NumDst()
	default:
		return g.NumEdges()
	}
}

// checkOperand validates that x is bound to the right batch length and sits
// on the graph's device.
func checkOperand(g *graph.Unit, x *tensor.Dense, t Target, name string) error {
	if x.Rows() != targetRows(g, t) {
		return fmt.Errorf("%w: %s operand has %d rows, %s target has %d",
			tensor.ErrShapeMismatch, name, x.Rows(), t, targetRows(g, t))
	}
	if x.Device() != g.Device() {
		return fmt.Errorf("%w: %s operand on %s, graph on %s",
			tensor.ErrDeviceMismatch, name, x.Device(), g.Device())
	}
	if x.DType() != tensor.Float32 {
		return fmt.Errorf("%w: %s operand is %s, kernels compute in float32",
			tensor.ErrDtypeMismatch, name, x.DType())
	}
	return nil
}

var (
	minusInf = float32(math.Inf(-1))
	plusInf  = float32(math.Inf(1))
)

// identity element per reduce kind; max/min use the documented +-Inf
// sentinel for zero-in-degree rows.
func reduceInit(r ReduceKind) float32 {
	switch r {
	case ReduceMax:
		return minusInf
	case ReduceMin:
		return plusInf
	default:
		return 0
	}
}

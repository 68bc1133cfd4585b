package dispatch

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/kernel"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// builtinMsg is a message expressible as a binary op between the source
// field and the edge field. It carries the spmm capability, so pairing it
// with a builtin reduce fuses into one kernel call.
type builtinMsg struct {
	op       kernel.OpKind
	src, edg string
	out      string
}

// CopyU emits the source field unchanged as the message.
func CopyU(srcField, out string) MessageFunc {
	return builtinMsg{op: kernel.OpCopyLhs, src: srcField, out: out}
}

// CopyE emits the edge field unchanged as the message.
func CopyE(edgeField, out string) MessageFunc {
	return builtinMsg{op: kernel.OpCopyRhs, edg: edgeField, out: out}
}

// Binary combines the source and edge fields elementwise.
func Binary(op kernel.OpKind, srcField, edgeField, out string) MessageFunc {
	return builtinMsg{op: op, src: srcField, edg: edgeField, out: out}
}

func (m builtinMsg) Name() string { return "builtin:" + m.op.String() }
func (m builtinMsg) SrcField() string { return m.src }
func (m builtinMsg) DstField() string { return "" }
func (m builtinMsg) EdgeField() string { return m.edg }
func (m builtinMsg) OutField() string { return m.out }
func (m builtinMsg) spmmOp() kernel.OpKind { return m.op }

// Compute is the gather fallback; the dispatcher normally lowers builtin
// messages to gSDDMM or fuses them away entirely.
func (m builtinMsg) Compute(b *EdgeBatch) (*tensor.Dense, error) {
	lhs, rhs := b.Src, b.Edge
	switch m.op {
	case kernel.OpCopyLhs:
		return lhs.Clone(), nil
	case kernel.OpCopyRhs:
		return rhs.Clone(), nil
	}
	if lhs.FeatSize() != rhs.FeatSize() {
		return nil, fmt.Errorf("%w: message operands %v vs %v", tensor.ErrShapeMismatch, lhs.Shape(), rhs.Shape())
	}
	out := tensor.Zeros(lhs.Shape()...)
	ld, rd, od := lhs.Data(), rhs.Data(), out.Data()
	for i := range od {
		switch m.op {
		case kernel.OpMul:
			od[i] = ld[i] * rd[i]
		case kernel.OpDiv:
			od[i] = ld[i] / rd[i]
		case kernel.OpAdd:
			od[i] = ld[i] + rd[i]
		case kernel.OpSub:
			od[i] = ld[i] - rd[i]
		}
	}
	return out, nil
}

// builtinRed folds messages with a fixed reduction. Pairing with a builtin
// message fuses; otherwise Compute reduces rectangular buckets directly.
type builtinRed struct {
	kind     kernel.ReduceKind
	msg, out string
}

// Sum reduces incoming messages by summation.
func Sum(msgField, out string) ReduceFunc { return builtinRed{kind: kernel.ReduceSum, msg: msgField, out: out} }

// Max reduces incoming messages by elementwise maximum.
func Max(msgField, out string) ReduceFunc { return builtinRed{kind: kernel.ReduceMax, msg: msgField, out: out} }

// Min reduces incoming messages by elementwise minimum.
func Min(msgField, out string) ReduceFunc { return builtinRed{kind: kernel.ReduceMin, msg: msgField, out: out} }

func (r builtinRed) Name() string                   { return "builtin:" + r.kind.String() }
func (r builtinRed) MsgField() string               { return r.msg }
func (r builtinRed) OutField() string               { return r.out }
func (r builtinRed) spmmReduce() kernel.ReduceKind  { return r.kind }

func (r builtinRed) Compute(b *NodeBatch) (*tensor.Dense, error) {
	fs := b.Messages.FeatSize() / b.Deg
	out := tensor.Zeros(append([]int{len(b.Nodes)}, b.Messages.FeatShape()[1:]...)...)
	md, od := b.Messages.Data(), out.Data()
	for i := range b.Nodes {
		for j := 0; j < b.Deg; j++ {
			row := md[(i*b.Deg+j)*fs : (i*b.Deg+j+1)*fs]
			for p, v := range row {
				switch {
				case j == 0:
					od[i*fs+p] = v
				case r.kind == kernel.ReduceSum:
					od[i*fs+p] += v
				case r.kind == kernel.ReduceMax && v > od[i*fs+p]:
					od[i*fs+p] = v
				case r.kind == kernel.ReduceMin && v < od[i*fs+p]:
					od[i*fs+p] = v
				}
			}
		}
	}
	return out, nil
}

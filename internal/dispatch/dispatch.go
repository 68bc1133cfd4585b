// Package dispatch routes message passing onto kernels. A (message, reduce)
// pair is planned once: builtin pairs fuse into a single gSpMM, a builtin
// message with a user reduce materializes edge messages and walks destination
// buckets, and fully user-defined pairs run on gathered batches.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/hetero"
	"github.com/23skdu/longbow-quiver/internal/kernel"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var tracer = otel.Tracer("quiver-dispatch")

// EdgeBatch hands a user message function the gathered operands of every
// edge of the relation, in canonical edge-ID order. Src and Dst carry one
// row per edge; Edge is nil when the message declares no edge field.
type EdgeBatch struct {
	Src  *tensor.Dense
	Dst  *tensor.Dense
	Edge *tensor.Dense
}

// NodeBatch hands a user reduce function the messages of a bucket of
// destination nodes sharing one in-degree: Messages has shape
// [len(Nodes), Deg, featDims...].
type NodeBatch struct {
	Nodes    []int64
	Deg      int
	Messages *tensor.Dense
}

// MessageFunc produces one message row per edge. SrcField, DstField and
// EdgeField name the inputs ("" when unused); OutField names the produced
// edge field.
type MessageFunc interface {
	Name() string
	SrcField() string
	DstField() string
	EdgeField() string
	OutField() string
	Compute(b *EdgeBatch) (*tensor.Dense, error)
}

// ReduceFunc folds the messages arriving at each destination node. MsgField
// names the consumed edge field, OutField the produced node field.
type ReduceFunc interface {
	Name() string
	MsgField() string
	OutField() string
	Compute(b *NodeBatch) (*tensor.Dense, error)
}

// ApplyFunc optionally reshapes the reduced output before it is stored into
// the destination frame.
type ApplyFunc func(out *tensor.Dense) (*tensor.Dense, error)

// builtinMessage is the capability that lets a message fuse into gSpMM or
// lower to gSDDMM.
type builtinMessage interface {
	spmmOp() kernel.OpKind
}

// builtinReduce is the capability that lets a reduce fuse into gSpMM.
type builtinReduce interface {
	spmmReduce() kernel.ReduceKind
}

type planKind int

const (
	planFused planKind = iota
	planPartial
	planUDF
)

func (k planKind) String() string {
	switch k {
	case planFused:
		return "fused"
	case planPartial:
		return "partial"
	default:
		return "udf"
	}
}

type plan struct {
	kind   planKind
	op     kernel.OpKind
	reduce kernel.ReduceKind
	msg    MessageFunc
	red    ReduceFunc
}

// buildPlan pairs a message with a reduce, failing fast on a field-name
// mismatch before any compute happens.
func buildPlan(msg MessageFunc, red ReduceFunc) (plan, error) {
	if msg.OutField() != red.MsgField() {
		return plan{}, fmt.Errorf("%w: message %q writes field %q, reduce %q reads %q",
			tensor.ErrFieldMismatch, msg.Name(), msg.OutField(), red.Name(), red.MsgField())
	}
	p := plan{msg: msg, red: red}
	bm, msgBuiltin := msg.(builtinMessage)
	br, redBuiltin := red.(builtinReduce)
	switch {
	case msgBuiltin && redBuiltin:
		p.kind = planFused
		p.op = bm.spmmOp()
		p.reduce = br.spmmReduce()
	case msgBuiltin:
		p.kind = planPartial
		p.op = bm.spmmOp()
	default:
		p.kind = planUDF
	}
	return p, nil
}

// UpdateAll runs message passing over one relation and stores the reduced
// result under the reduce's output field in the destination node frame.
func UpdateAll(ctx context.Context, g *hetero.Graph, etype string, msg MessageFunc, red ReduceFunc, apply ApplyFunc) error {
	ctx, span := tracer.Start(ctx, "UpdateAll")
	defer span.End()

	p, err := buildPlan(msg, red)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.String("etype", etype),
		attribute.String("plan", p.kind.String()),
	)
	log.Debug().Str("etype", etype).Str("msg", msg.Name()).Str("reduce", red.Name()).
		Stringer("plan", p.kind).Msg("dispatching update_all")
	dispatchCalls.WithLabelValues(p.kind.String()).Inc()

	u, err := g.Relation(etype)
	if err != nil {
		return err
	}
	rid, err := g.RelationID(etype)
	if err != nil {
		return err
	}
	tr := g.RelationTriple(rid)
	srcFrame, err := g.NodeData(tr.SrcType)
	if err != nil {
		return err
	}
	dstFrame, err := g.NodeData(tr.DstType)
	if err != nil {
		return err
	}
	edgeFrame, err := g.EdgeData(etype)
	if err != nil {
		return err
	}

	var x, y *tensor.Dense
	if f := msg.SrcField(); f != "" {
		if x, err = srcFrame.Get(f); err != nil {
			return err
		}
	}
	if f := msg.EdgeField(); f != "" {
		if y, err = edgeFrame.Get(f); err != nil {
			return err
		}
	}

	var out *tensor.Dense
	switch p.kind {
	case planFused:
		out, _, err = kernel.GSpMM(u, p.op, p.reduce, x, y)
	case planPartial:
		var msgs *tensor.Dense
		msgs, _, err = kernel.GSDDMM(u, p.op, x, y, kernel.TargetU, kernel.TargetE)
		if err == nil {
			out, err = reduceBuckets(ctx, u, msgs, p.red)
		}
	default:
		var msgs *tensor.Dense
		msgs, err = udfMessages(u, msg, x, y, dstFrame)
		if err == nil {
			out, err = reduceBuckets(ctx, u, msgs, p.red)
		}
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if apply != nil {
		if out, err = apply(out); err != nil {
			return err
		}
	}
	return dstFrame.Set(red.OutField(), out)
}

// udfMessages gathers per-edge operand rows and runs the user message once
// over the whole edge set.
func udfMessages(u *graph.Unit, msg MessageFunc, x, y *tensor.Dense, dstFrame *hetero.Frame) (*tensor.Dense, error) {
	src, dst, err := u.Edges()
	if err != nil {
		return nil, err
	}
	b := &EdgeBatch{Edge: y}
	if x != nil {
		b.Src = gatherRows(x, src)
	}
	if f := msg.DstField(); f != "" {
		col, err := dstFrame.Get(f)
		if err != nil {
			return nil, err
		}
		b.Dst = gatherRows(col, dst)
	}
	out, err := msg.Compute(b)
	if err != nil {
		return nil, err
	}
	if out.Rows() != u.NumEdges() {
		return nil, fmt.Errorf("%w: message %q produced %d rows for %d edges",
			tensor.ErrShapeMismatch, msg.Name(), out.Rows(), u.NumEdges())
	}
	return out, nil
}

// reduceBuckets walks destinations grouped by in-degree so each user reduce
// call sees a rectangular [nodes, deg, feat] batch. Zero-degree destinations
// get zero rows without calling the reduce.
func reduceBuckets(ctx context.Context, u *graph.Unit, msgs *tensor.Dense, red ReduceFunc) (*tensor.Dense, error) {
	_, span := tracer.Start(ctx, "reduceBuckets")
	defer span.End()

	indptr, _, eid, err := u.CSC()
	if err != nil {
		return nil, err
	}
	ip, ed := indptr.Data(), eid.Data()

	fs := msgs.FeatSize()
	featShape := msgs.FeatShape()
	out := tensor.Zeros(append([]int{u.NumDst()}, featShape...)...)

	buckets := make(map[int][]int64)
	for v := 0; v < u.NumDst(); v++ {
		deg := int(ip[v+1] - ip[v])
		if deg > 0 {
			buckets[deg] = append(buckets[deg], int64(v))
		}
	}
	degs := make([]int, 0, len(buckets))
	for d := range buckets {
		degs = append(degs, d)
	}
	sort.Ints(degs)

	for _, deg := range degs {
		nodes := buckets[deg]
		batch := tensor.Zeros(append([]int{len(nodes), deg}, featShape...)...)
		for i, v := range nodes {
			for j := 0; j < deg; j++ {
				e := ed[ip[v]+int64(j)]
				copy(batch.Data()[(i*deg+j)*fs:(i*deg+j+1)*fs], msgs.Row(int(e)))
			}
		}
		reduced, err := red.Compute(&NodeBatch{Nodes: nodes, Deg: deg, Messages: batch})
		if err != nil {
			return nil, err
		}
		if reduced.Rows() != len(nodes) || reduced.FeatSize() != fs {
			return nil, fmt.Errorf("%w: reduce %q produced shape %v for bucket of %d nodes x %d features",
				tensor.ErrShapeMismatch, red.Name(), reduced.Shape(), len(nodes), fs)
		}
		for i, v := range nodes {
			copy(out.Data()[int(v)*fs:(int(v)+1)*fs], reduced.Row(i))
		}
	}
	return out, nil
}

func gatherRows(x *tensor.Dense, ids []int64) *tensor.Dense {
	fs := x.FeatSize()
	out := tensor.Zeros(append([]int{len(ids)}, x.FeatShape()...)...)
	for i, id := range ids {
		copy(out.Data()[i*fs:(i+1)*fs], x.Row(int(id)))
	}
	return out
}

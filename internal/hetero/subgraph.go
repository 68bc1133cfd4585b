package hetero

import (
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Subgraph is a typed induced subgraph. InducedNodes and InducedEdges map the
// subgraph's local IDs back to parent IDs, keyed by node type and canonical
// edge type respectively. Feature frames are gathered copies.
type Subgraph struct {
	Graph        *Graph
	InducedNodes map[string]*tensor.Index
	InducedEdges map[string]*tensor.Index
}

// NodeSubgraph induces the subgraph on the given per-type node lists. Types
// absent from the map keep zero nodes; relations between them come out empty.
func (g *Graph) NodeSubgraph(nodes map[string][]int64) (*Subgraph, error) {
	picked := make([][]int64, len(g.ntypes))
	for name, ids := range nodes {
		t, err := g.nodeTypeID(name)
		if err != nil {
			return nil, err
		}
		picked[t] = ids
	}

	var rels []RelationEdges
	inducedEdges := make(map[string]*tensor.Index, len(g.triples))
	counts := make(map[string]int, len(g.ntypes))
	for t, name := range g.ntypes {
		counts[name] = len(picked[t])
	}
	for r, tr := range g.triples {
		sub, err := g.idx.Relation(r).NodeSubgraph(picked[g.idx.Meta().SrcType(r)], picked[g.idx.Meta().DstType(r)])
		if err != nil {
			return nil, err
		}
		src, dst, err := sub.Graph.Edges()
		if err != nil {
			return nil, err
		}
		rels = append(rels, RelationEdges{Triple: tr, Src: src, Dst: dst})
		inducedEdges[tr.String()] = sub.InducedEdges
	}

	out, err := NewGraph(rels, counts)
	if err != nil {
		return nil, err
	}
	inducedNodes := make(map[string]*tensor.Index, len(g.ntypes))
	for t, name := range g.ntypes {
		inducedNodes[name] = tensor.IndexFromInts(picked[t]...)
		out.nodeFrames[t], err = g.nodeFrames[t].Subframe(picked[t])
		if err != nil {
			return nil, err
		}
	}
	for r, tr := range g.triples {
		out.edgeFrames[r], err = g.edgeFrames[r].Subframe(inducedEdges[tr.String()].Data())
		if err != nil {
			return nil, err
		}
	}
	return &Subgraph{Graph: out, InducedNodes: inducedNodes, InducedEdges: inducedEdges}, nil
}

// EdgeSubgraph induces the subgraph on per-relation edge-ID lists, relabeling
// each type's endpoint nodes compactly in first-appearance order. Relations
// absent from the map keep zero edges.
func (g *Graph) EdgeSubgraph(edges map[string][]int64) (*Subgraph, error) {
	perRel := make([][]int64, len(g.triples))
	for name, ids := range edges {
		r, err := g.RelationID(name)
		if err != nil {
			return nil, err
		}
		perRel[r] = ids
	}

	// First-appearance node relabeling is shared across relations touching the
	// same type, so walk edges once per relation accumulating per-type maps.
	remap := make([]map[int64]int64, len(g.ntypes))
	order := make([][]int64, len(g.ntypes))
	for t := range remap {
		remap[t] = make(map[int64]int64)
	}
	local := func(t int, id int64) int64 {
		if l, ok := remap[t][id]; ok {
			return l
		}
		l := int64(len(order[t]))
		remap[t][id] = l
		order[t] = append(order[t], id)
		return l
	}

	rels := make([]RelationEdges, len(g.triples))
	inducedEdges := make(map[string]*tensor.Index, len(g.triples))
	for r, tr := range g.triples {
		st, dt := g.idx.Meta().SrcType(r), g.idx.Meta().DstType(r)
		gs, gd, err := g.idx.Relation(r).FindEdges(perRel[r])
		if err != nil {
			return nil, err
		}
		src := make([]int64, len(perRel[r]))
		dst := make([]int64, len(perRel[r]))
		for i := range perRel[r] {
			src[i] = local(st, gs[i])
			dst[i] = local(dt, gd[i])
		}
		rels[r] = RelationEdges{Triple: tr, Src: src, Dst: dst}
		inducedEdges[tr.String()] = tensor.IndexFromInts(perRel[r]...)
	}

	counts := make(map[string]int, len(g.ntypes))
	for t, name := range g.ntypes {
		counts[name] = len(order[t])
	}
	out, err := NewGraph(rels, counts)
	if err != nil {
		return nil, err
	}
	inducedNodes := make(map[string]*tensor.Index, len(g.ntypes))
	for t, name := range g.ntypes {
		inducedNodes[name] = tensor.IndexFromInts(order[t]...)
		out.nodeFrames[t], err = g.nodeFrames[t].Subframe(order[t])
		if err != nil {
			return nil, err
		}
	}
	for r := range g.triples {
		out.edgeFrames[r], err = g.edgeFrames[r].Subframe(perRel[r])
		if err != nil {
			return nil, err
		}
	}
	return &Subgraph{Graph: out, InducedNodes: inducedNodes, InducedEdges: inducedEdges}, nil
}

// homogeneous reports whether the graph has exactly one relation; several
// kernel entry points only accept such graphs.
func (g *Graph) homogeneous() bool { return len(g.triples) == 1 }

// Unit returns the sole relation of a single-relation graph.
func (g *Graph) Unit() (*graph.Unit, error) {
	if !g.homogeneous() {
		return nil, tensor.ErrTypeNotFound
	}
	return g.idx.Relation(0), nil
}

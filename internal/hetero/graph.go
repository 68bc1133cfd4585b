package hetero

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// RelationEdges declares one relation of a heterogeneous graph by its
// canonical triple and edge list.
type RelationEdges struct {
	Triple   Triple
	Src, Dst []int64
}

// Graph is the type-aware front end: a HeteroGraphIndex plus one feature
// frame per node type and per relation.
type Graph struct {
	idx     *Index
	ntypes  []string
	typeID  map[string]int
	triples []Triple

	nodeFrames []*Frame
	edgeFrames []*Frame
}

// NewGraph builds a heterograph from per-relation edge lists. numNodes may
// pin per-type node counts; types not listed get max(id)+1 over every
// relation touching them.
func NewGraph(rels []RelationEdges, numNodes map[string]int) (*Graph, error) {
	g := &Graph{typeID: make(map[string]int)}
	addType := func(name string) int {
		if id, ok := g.typeID[name]; ok {
			return id
		}
		id := len(g.ntypes)
		g.typeID[name] = id
		g.ntypes = append(g.ntypes, name)
		return id
	}

	counts := make(map[string]int, len(numNodes))
	for name, n := range numNodes {
		counts[name] = n
	}
	var pairs [][2]int
	for _, r := range rels {
		st := addType(r.Triple.SrcType)
		dt := addType(r.Triple.DstType)
		pairs = append(pairs, [2]int{st, dt})
		for _, u := range r.Src {
			if int(u)+1 > counts[r.Triple.SrcType] {
				counts[r.Triple.SrcType] = int(u) + 1
			}
		}
		for _, v := range r.Dst {
			if int(v)+1 > counts[r.Triple.DstType] {
				counts[r.Triple.DstType] = int(v) + 1
			}
		}
		g.triples = append(g.triples, r.Triple)
	}
	if explicit, ok := firstUndercount(rels, numNodes); ok {
		return nil, fmt.Errorf("%w: declared %d nodes for type %q but edges reference larger ids",
			tensor.ErrIndexOutOfRange, numNodes[explicit], explicit)
	}

	meta, err := NewMetaGraph(len(g.ntypes), pairs)
	if err != nil {
		return nil, err
	}
	units := make([]*graph.Unit, len(rels))
	for i, r := range rels {
		u, err := graph.FromCOOInts(counts[r.Triple.SrcType], counts[r.Triple.DstType], r.Src, r.Dst)
		if err != nil {
			return nil, fmt.Errorf("relation %s: %w", r.Triple, err)
		}
		units[i] = u
	}
	nn := make([]int, len(g.ntypes))
	for name, id := range g.typeID {
		nn[id] = counts[name]
	}
	g.idx, err = NewIndex(meta, units, nn)
	if err != nil {
		return nil, err
	}
	for _, n := range nn {
		g.nodeFrames = append(g.nodeFrames, NewFrame(n))
	}
	for _, u := range units {
		g.edgeFrames = append(g.edgeFrames, NewFrame(u.NumEdges()))
	}
	return g, nil
}

func firstUndercount(rels []RelationEdges, numNodes map[string]int) (string, bool) {
	for _, r := range rels {
		if n, ok := numNodes[r.Triple.SrcType]; ok {
			for _, u := range r.Src {
				if u >= int64(n) {
					return r.Triple.SrcType, true
				}
			}
		}
		if n, ok := numNodes[r.Triple.DstType]; ok {
			for _, v := range r.Dst {
				if v >= int64(n) {
					return r.Triple.DstType, true
				}
			}
		}
	}
	return "", false
}

// Index exposes the underlying HeteroGraphIndex.
func (g *Graph) Index() *Index { return g.idx }

// NodeTypes returns the node-type names in declaration order.
func (g *Graph) NodeTypes() []string { return append([]string(nil), g.ntypes...) }

// CanonicalEdgeTypes returns every relation's canonical triple.
func (g *Graph) CanonicalEdgeTypes() []Triple { return append([]Triple(nil), g.triples...) }

// UniBipartite reports whether no node type is both a source and a
// destination.
func (g *Graph) UniBipartite() bool { return g.idx.Meta().UniBipartite() }

// RelationID resolves an edge-type name to a relation ID. The name may be a
// bare relation name (rejected as ambiguous when reused across triples) or a
// full "src:rel:dst" triple.
func (g *Graph) RelationID(name string) (int, error) {
	if strings.Contains(name, ":") {
		for r, tr := range g.triples {
			if tr.String() == name {
				return r, nil
			}
		}
		return 0, fmt.Errorf("%w: edge type %q", tensor.ErrTypeNotFound, name)
	}
	found := -1
	for r, tr := range g.triples {
		if tr.Rel == name {
			if found >= 0 {
				return 0, fmt.Errorf("%w: relation name %q is ambiguous, use the canonical triple",
					tensor.ErrTypeNotFound, name)
			}
			found = r
		}
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: edge type %q", tensor.ErrTypeNotFound, name)
	}
	return found, nil
}

func (g *Graph) nodeTypeID(name string) (int, error) {
	id, ok := g.typeID[name]
	if !ok {
		return 0, fmt.Errorf("%w: node type %q", tensor.ErrTypeNotFound, name)
	}
	return id, nil
}

// NumNodes returns the node count of a type.
func (g *Graph) NumNodes(ntype string) (int, error) {
	id, err := g.nodeTypeID(ntype)
	if err != nil {
		return 0, err
	}
	return g.idx.NumNodes(id), nil
}

// NumEdges returns the edge count of a relation.
func (g *Graph) NumEdges(etype string) (int, error) {
	r, err := g.RelationID(etype)
	if err != nil {
		return 0, err
	}
	return g.idx.NumEdges(r), nil
}

// Relation returns the UnitGraph of an edge type.
func (g *Graph) Relation(etype string) (*graph.Unit, error) {
	r, err := g.RelationID(etype)
	if err != nil {
		return nil, err
	}
	return g.idx.Relation(r), nil
}

// RelationTriple returns the canonical triple of relation ID r.
func (g *Graph) RelationTriple(r int) Triple { return g.triples[r] }

// NodeData returns the feature frame of a node type.
func (g *Graph) NodeData(ntype string) (*Frame, error) {
	id, err := g.nodeTypeID(ntype)
	if err != nil {
		return nil, err
	}
	return g.nodeFrames[id], nil
}

// EdgeData returns the feature frame of an edge type.
func (g *Graph) EdgeData(etype string) (*Frame, error) {
	r, err := g.RelationID(etype)
	if err != nil {
		return nil, err
	}
	return g.edgeFrames[r], nil
}

// InDegree returns the in-degree of destination node v under an edge type.
func (g *Graph) InDegree(etype string, v int64) (int64, error) {
	u, err := g.Relation(etype)
	if err != nil {
		return 0, err
	}
	return u.InDegree(v)
}

// InDegrees returns the in-degree of every destination node of an edge type.
func (g *Graph) InDegrees(etype string) ([]int64, error) {
	u, err := g.Relation(etype)
	if err != nil {
		return nil, err
	}
	return u.InDegrees()
}

// AddNodes appends n nodes of a type, growing every frame and relation that
// touches the type. Mutation assumes exclusive access; interleaving with
// concurrent reads of cached formats is not safe.
func (g *Graph) AddNodes(ntype string, n int) error {
	id, err := g.nodeTypeID(ntype)
	if err != nil {
		return err
	}
	for r := 0; r < g.idx.Meta().NumRelations(); r++ {
		if g.idx.Meta().SrcType(r) == id {
			if err := g.idx.Relation(r).AddSrcNodes(n); err != nil {
				return err
			}
		}
		if g.idx.Meta().DstType(r) == id {
			if err := g.idx.Relation(r).AddDstNodes(n); err != nil {
				return err
			}
		}
	}
	if err := g.nodeFrames[id].AddRows(n); err != nil {
		return err
	}
	g.idx.numNodes[id] += n
	log.Debug().Str("ntype", ntype).Int("added", n).Int("total", g.idx.numNodes[id]).Msg("nodes added")
	return nil
}

// AddEdges appends edges to a relation, growing its edge frame.
func (g *Graph) AddEdges(etype string, src, dst []int64) error {
	r, err := g.RelationID(etype)
	if err != nil {
		return err
	}
	if err := g.idx.Relation(r).AddEdges(src, dst); err != nil {
		return err
	}
	return g.edgeFrames[r].AddRows(len(src))
}

// To materializes the given format on every relation.
func (g *Graph) To(f graph.Format) error {
	for r := 0; r < g.idx.Meta().NumRelations(); r++ {
		if _, err := g.idx.Relation(r).To(f); err != nil {
			return fmt.Errorf("relation %s: %w", g.triples[r], err)
		}
	}
	return nil
}

// Formats reports the materialized formats per edge type.
func (g *Graph) Formats() map[string]graph.Format {
	out := make(map[string]graph.Format, len(g.triples))
	for r, tr := range g.triples {
		out[tr.String()] = g.idx.Relation(r).Materialized()
	}
	return out
}

// Reverse returns the graph with every relation's direction flipped. Relation
// units share buffers with the receiver (the O(1) reverse view), triples swap
// their endpoint types, and all feature frames are shared.
func (g *Graph) Reverse() (*Graph, error) {
	n := g.idx.Meta().NumRelations()
	pairs := make([][2]int, n)
	units := make([]*graph.Unit, n)
	triples := make([]Triple, n)
	for r := 0; r < n; r++ {
		pairs[r] = [2]int{g.idx.Meta().DstType(r), g.idx.Meta().SrcType(r)}
		units[r] = g.idx.Relation(r).Reverse()
		tr := g.triples[r]
		triples[r] = Triple{SrcType: tr.DstType, Rel: tr.Rel, DstType: tr.SrcType}
	}
	meta, err := NewMetaGraph(g.idx.Meta().NumTypes(), pairs)
	if err != nil {
		return nil, err
	}
	idx, err := NewIndex(meta, units, g.idx.numNodes)
	if err != nil {
		return nil, err
	}
	return &Graph{
		idx: idx, ntypes: g.ntypes, typeID: g.typeID, triples: triples,
		nodeFrames: g.nodeFrames, edgeFrames: g.edgeFrames,
	}, nil
}

// CastIndexWidth returns a graph whose relation index buffers carry the
// given width tag, sharing feature frames with the receiver. Narrowing fails
// if any ID overflows 32 bits.
func (g *Graph) CastIndexWidth(w tensor.IndexWidth) (*Graph, error) {
	units := make([]*graph.Unit, g.idx.Meta().NumRelations())
	for r := range units {
		src, dst, err := g.idx.Relation(r).COO()
		if err != nil {
			return nil, err
		}
		ns, err := src.AsWidth(w)
		if err != nil {
			return nil, err
		}
		nd, err := dst.AsWidth(w)
		if err != nil {
			return nil, err
		}
		units[r], err = graph.FromCOO(g.idx.Relation(r).NumSrc(), g.idx.Relation(r).NumDst(), ns, nd)
		if err != nil {
			return nil, err
		}
	}
	idx, err := NewIndex(g.idx.Meta(), units, g.idx.numNodes)
	if err != nil {
		return nil, err
	}
	return &Graph{
		idx: idx, ntypes: g.ntypes, typeID: g.typeID, triples: g.triples,
		nodeFrames: g.nodeFrames, edgeFrames: g.edgeFrames,
	}, nil
}

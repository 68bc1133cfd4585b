// Package hetero implements the type-aware graph layer: a metagraph over
// node-type IDs, a HeteroGraphIndex gluing one UnitGraph per relation, and
// the feature-carrying front end built on top of both.
package hetero

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Triple is a canonical edge type: the only globally unambiguous identifier
// of a relation. A bare relation name may be reused across triples.
type Triple struct {
	SrcType, Rel, DstType string
}

func (t Triple) String() string {
	return t.SrcType + ":" + t.Rel + ":" + t.DstType
}

// MetaGraph is a small immutable digraph over node-type IDs whose edges are
// relation IDs: edge r connects srcType[r] to dstType[r].
type MetaGraph struct {
	numTypes int
	srcType  []int
	dstType  []int
}

// NewMetaGraph builds a metagraph over numTypes node types; relations[r]
// holds the (source type, destination type) pair of relation r.
func NewMetaGraph(numTypes int, relations [][2]int) (*MetaGraph, error) {
	m := &MetaGraph{numTypes: numTypes}
	for r, pair := range relations {
		if pair[0] < 0 || pair[0] >= numTypes || pair[1] < 0 || pair[1] >= numTypes {
			return nil, fmt.Errorf("%w: relation %d connects types (%d,%d), have %d types",
				tensor.ErrIndexOutOfRange, r, pair[0], pair[1], numTypes)
		}
		m.srcType = append(m.srcType, pair[0])
		m.dstType = append(m.dstType, pair[1])
	}
	return m, nil
}

// NumTypes returns the node-type count.
func (m *MetaGraph) NumTypes() int { return m.numTypes }

// NumRelations returns the relation count.
func (m *MetaGraph) NumRelations() int { return len(m.srcType) }

// SrcType returns the source node-type ID of relation r.
func (m *MetaGraph) SrcType(r int) int { return m.srcType[r] }

// DstType returns the destination node-type ID of relation r.
func (m *MetaGraph) DstType(r int) int { return m.dstType[r] }

// UniBipartite reports whether no node type appears as both a source and a
// destination across all relations. This property gates src/dst split views.
func (m *MetaGraph) UniBipartite() bool {
	asSrc := make(map[int]bool)
	asDst := make(map[int]bool)
	for r := range m.srcType {
		asSrc[m.srcType[r]] = true
		asDst[m.dstType[r]] = true
	}
	for t := range asSrc {
		if asDst[t] {
			return false
		}
	}
	return true
}

// Index is the HeteroGraphIndex: the metagraph, one UnitGraph per relation,
// and per-type node counts. Node IDs of a type are always the dense range
// [0, N_type); edge IDs of a relation are always [0, E_relation).
type Index struct {
	meta     *MetaGraph
	rels     []*graph.Unit
	numNodes []int
}

// NewIndex validates that every relation graph agrees with the per-type node
// counts and shares one index width.
func NewIndex(meta *MetaGraph, rels []*graph.Unit, numNodes []int) (*Index, error) {
	if len(rels) != meta.NumRelations() {
		return nil, fmt.Errorf("%w: %d relation graphs for %d metagraph edges",
			tensor.ErrShapeMismatch, len(rels), meta.NumRelations())
	}
	if len(numNodes) != meta.NumTypes() {
		return nil, fmt.Errorf("%w: %d node counts for %d types",
			tensor.ErrShapeMismatch, len(numNodes), meta.NumTypes())
	}
	for r, u := range rels {
		if u.NumSrc() != numNodes[meta.SrcType(r)] {
			return nil, fmt.Errorf("%w: relation %d has %d source nodes, type %d has %d",
				tensor.ErrShapeMismatch, r, u.NumSrc(), meta.SrcType(r), numNodes[meta.SrcType(r)])
		}
		if u.NumDst() != numNodes[meta.DstType(r)] {
			return nil, fmt.Errorf("%w: relation %d has %d destination nodes, type %d has %d",
				tensor.ErrShapeMismatch, r, u.NumDst(), meta.DstType(r), numNodes[meta.DstType(r)])
		}
		if u.Width() != rels[0].Width() {
			return nil, fmt.Errorf("%w: relation %d index width %d, relation 0 has %d",
				tensor.ErrDtypeMismatch, r, u.Width(), rels[0].Width())
		}
	}
	return &Index{meta: meta, rels: rels, numNodes: append([]int(nil), numNodes...)}, nil
}

// Meta returns the metagraph.
func (ix *Index) Meta() *MetaGraph { return ix.meta }

// Relation returns the UnitGraph of relation r.
func (ix *Index) Relation(r int) *graph.Unit { return ix.rels[r] }

// NumNodes returns the node count of type t.
func (ix *Index) NumNodes(t int) int { return ix.numNodes[t] }

// NumEdges returns the edge count of relation r.
func (ix *Index) NumEdges(r int) int { return ix.rels[r].NumEdges() }

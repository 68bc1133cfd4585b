package graph

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// WithRestrictedFormats returns a shallow view of g that may only ever
// materialize the formats in mask. Already-cached formats outside the mask
// are dropped from the view (the originals stay live).
func (g *Unit) WithRestrictedFormats(mask Format) *Unit {
	v := &Unit{
		numSrc: g.numSrc, numDst: g.numDst, numEdges: g.numEdges,
		width: g.width, dev: g.dev, allowed: mask,
	}
	if mask&FormatCOO != 0 {
		v.coo = g.coo
	}
	if mask&FormatCSR != 0 {
		v.csr = g.csr
	}
	if mask&FormatCSC != 0 {
		v.csc = g.csc
	}
	return v
}

// AddSrcNodes grows the source node range by n. Cached compressed formats
// are invalidated (their indptr length changes).
func (g *Unit) AddSrcNodes(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: cannot add %d nodes", tensor.ErrStructuralMutation, n)
	}
	if _, err := g.getCOO(); err != nil {
		return fmt.Errorf("%w: graph cannot rebuild from coo: %v", tensor.ErrStructuralMutation, err)
	}
	g.numSrc += n
	g.invalidate()
	return nil
}

// AddDstNodes grows the destination node range by n.
func (g *Unit) AddDstNodes(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: cannot add %d nodes", tensor.ErrStructuralMutation, n)
	}
	if _, err := g.getCOO(); err != nil {
		return fmt.Errorf("%w: graph cannot rebuild from coo: %v", tensor.ErrStructuralMutation, err)
	}
	g.numDst += n
	g.invalidate()
	return nil
}

// AddEdges appends edges to the canonical COO and invalidates every derived
// format. New edges get the next dense edge IDs.
func (g *Unit) AddEdges(src, dst []int64) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: src has %d edges, dst has %d", tensor.ErrShapeMismatch, len(src), len(dst))
	}
	m, err := g.getCOO()
	if err != nil {
		return fmt.Errorf("%w: graph cannot rebuild from coo: %v", tensor.ErrStructuralMutation, err)
	}
	for i := range src {
		if src[i] < 0 || src[i] >= int64(g.numSrc) {
			return fmt.Errorf("%w: src id %d at new edge %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, src[i], i, g.numSrc)
		}
		if dst[i] < 0 || dst[i] >= int64(g.numDst) {
			return fmt.Errorf("%w: dst id %d at new edge %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, dst[i], i, g.numDst)
		}
	}
	ns := append(append([]int64(nil), m.src.Data()...), src...)
	nd := append(append([]int64(nil), m.dst.Data()...), dst...)
	g.coo = &cooMat{src: tensor.NewIndex(g.width, ns), dst: tensor.NewIndex(g.width, nd)}
	g.numEdges = len(ns)
	g.invalidate()
	return nil
}

func (g *Unit) invalidate() {
	if g.csr != nil || g.csc != nil {
		formatInvalidations.Inc()
	}
	g.csr, g.csc = nil, nil
}

// Edges returns the edge list in canonical edge-ID order.
func (g *Unit) Edges() (src, dst []int64, err error) {
	m, err := g.getCOO()
	if err != nil {
		return nil, nil, err
	}
	return m.src.Data(), m.dst.Data(), nil
}

// FindEdges resolves edge IDs to their (src, dst) endpoints.
func (g *Unit) FindEdges(eids []int64) (src, dst []int64, err error) {
	m, err := g.getCOO()
	if err != nil {
		return nil, nil, err
	}
	src = make([]int64, len(eids))
	dst = make([]int64, len(eids))
	for i, e := range eids {
		if e < 0 || e >= int64(g.numEdges) {
			return nil, nil, fmt.Errorf("%w: edge id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, e, g.numEdges)
		}
		src[i] = m.src.At(int(e))
		dst[i] = m.dst.At(int(e))
	}
	return src, dst, nil
}

// OutDegrees returns the out-degree of every source node.
func (g *Unit) OutDegrees() ([]int64, error) {
	m, err := g.getCSR()
	if err != nil {
		return nil, err
	}
	return degreesFromIndptr(m.indptr), nil
}

// InDegrees returns the in-degree of every destination node.
func (g *Unit) InDegrees() ([]int64, error) {
	m, err := g.getCSC()
	if err != nil {
		return nil, err
	}
	return degreesFromIndptr(m.indptr), nil
}

func degreesFromIndptr(indptr *tensor.Index) []int64 {
	ip := indptr.Data()
	out := make([]int64, len(ip)-1)
	for i := range out {
		out[i] = ip[i+1] - ip[i]
	}
	return out
}

// InDegree returns the in-degree of destination node v.
func (g *Unit) InDegree(v int64) (int64, error) {
	if v < 0 || v >= int64(g.numDst) {
		return 0, fmt.Errorf("%w: dst id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, v, g.numDst)
	}
	m, err := g.getCSC()
	if err != nil {
		return 0, err
	}
	return m.indptr.At(int(v)+1) - m.indptr.At(int(v)), nil
}

// HasEdgeBetween reports whether at least one edge (u, v) exists.
func (g *Unit) HasEdgeBetween(u, v int64) (bool, error) {
	eids, err := g.EdgeIDsBetween(u, v)
	if err != nil {
		return false, err
	}
	return len(eids) > 0, nil
}

// EdgeIDsBetween returns the IDs of all edges (u, v), in insertion order.
func (g *Unit) EdgeIDsBetween(u, v int64) ([]int64, error) {
	if u < 0 || u >= int64(g.numSrc) {
		return nil, fmt.Errorf("%w: src id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, u, g.numSrc)
	}
	if v < 0 || v >= int64(g.numDst) {
		return nil, fmt.Errorf("%w: dst id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, v, g.numDst)
	}
	m, err := g.getCSR()
	if err != nil {
		return nil, err
	}
	var out []int64
	ip, ix, eid := m.indptr.Data(), m.indices.Data(), m.eid.Data()
	for p := ip[u]; p < ip[u+1]; p++ {
		if ix[p] == v {
			out = append(out, eid[p])
		}
	}
	return out, nil
}

// Subgraph is an induced graph plus the ID mappings back into its parent.
type Subgraph struct {
	Graph *Unit
	// InducedSrc[i] / InducedDst[i] are the parent IDs of local node i.
	InducedSrc, InducedDst *tensor.Index
	// InducedEdges[i] is the parent edge ID of local edge i.
	InducedEdges *tensor.Index
}

// EdgeSubgraph builds the subgraph induced by the given parent edge IDs.
// When relabel is true the node ranges compress to the endpoints actually
// referenced, numbered by first appearance (sources and destinations
// independently); otherwise the parent node ranges are preserved.
func (g *Unit) EdgeSubgraph(eids []int64, relabel bool) (*Subgraph, error) {
	src, dst, err := g.FindEdges(eids)
	if err != nil {
		return nil, err
	}
	indEdges := tensor.NewIndex(g.width, append([]int64(nil), eids...))
	if !relabel {
		sub, err := FromCOO(g.numSrc, g.numDst, tensor.NewIndex(g.width, src), tensor.NewIndex(g.width, dst))
		if err != nil {
			return nil, err
		}
		return &Subgraph{Graph: sub, InducedEdges: indEdges}, nil
	}
	srcMap := make(map[int64]int64)
	dstMap := make(map[int64]int64)
	var srcIDs, dstIDs []int64
	lsrc := make([]int64, len(src))
	ldst := make([]int64, len(dst))
	for i := range src {
		u, ok := srcMap[src[i]]
		if !ok {
			u = int64(len(srcIDs))
			srcMap[src[i]] = u
			srcIDs = append(srcIDs, src[i])
		}
		v, ok := dstMap[dst[i]]
		if !ok {
			v = int64(len(dstIDs))
			dstMap[dst[i]] = v
			dstIDs = append(dstIDs, dst[i])
		}
		lsrc[i] = u
		ldst[i] = v
	}
	sub, err := FromCOO(len(srcIDs), len(dstIDs), tensor.NewIndex(g.width, lsrc), tensor.NewIndex(g.width, ldst))
	if err != nil {
		return nil, err
	}
	return &Subgraph{
		Graph:        sub,
		InducedSrc:   tensor.NewIndex(g.width, srcIDs),
		InducedDst:   tensor.NewIndex(g.width, dstIDs),
		InducedEdges: indEdges,
	}, nil
}

// NodeSubgraph builds the subgraph induced by keeping every edge whose
// source is in srcNodes and destination in dstNodes. Local node IDs follow
// the order of the given slices.
func (g *Unit) NodeSubgraph(srcNodes, dstNodes []int64) (*Subgraph, error) {
	srcMap := make(map[int64]int64, len(srcNodes))
	for i, u := range srcNodes {
		if u < 0 || u >= int64(g.numSrc) {
			return nil, fmt.Errorf("%w: src id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, u, g.numSrc)
		}
		srcMap[u] = int64(i)
	}
	m, err := g.getCSC()
	if err != nil {
		return nil, err
	}
	var lsrc, ldst, eids []int64
	ip, ix, eid := m.indptr.Data(), m.indices.Data(), m.eid.Data()
	for j, v := range dstNodes {
		if v < 0 || v >= int64(g.numDst) {
			return nil, fmt.Errorf("%w: dst id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, v, g.numDst)
		}
		for p := ip[v]; p < ip[v+1]; p++ {
			if u, ok := srcMap[ix[p]]; ok {
				lsrc = append(lsrc, u)
				ldst = append(ldst, int64(j))
				eids = append(eids, eid[p])
			}
		}
	}
	sub, err := FromCOO(len(srcNodes), len(dstNodes), tensor.NewIndex(g.width, lsrc), tensor.NewIndex(g.width, ldst))
	if err != nil {
		return nil, err
	}
	return &Subgraph{
		Graph:        sub,
		InducedSrc:   tensor.IndexFromInts(srcNodes...),
		InducedDst:   tensor.IndexFromInts(dstNodes...),
		InducedEdges: tensor.NewIndex(g.width, eids),
	}, nil
}

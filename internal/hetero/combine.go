package hetero

import (
	"fmt"
	"sort"
	"strings"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Combined is a flattened view over several relations: a single-relation
// graph whose merged node and edge spaces carry explicit provenance arrays.
// NodeType[i] and NodeID[i] give the original type ID and local ID of merged
// node i; EdgeType and EdgeID do the same for merged edges (type IDs index
// the parent graph's declaration order).
type Combined struct {
	Graph    *Graph
	NodeType *tensor.Index
	NodeID   *tensor.Index
	EdgeType *tensor.Index
	EdgeID   *tensor.Index
}

// Combine flattens the named relations into one homogeneous relation. The
// merged node space concatenates the involved node types sorted by name;
// merged edge IDs follow the order etypes are given. Feature columns present
// in every involved type with identical shapes are concatenated, others are
// dropped from the flattened frames.
func (g *Graph) Combine(etypes []string) (*Combined, error) {
	if len(etypes) == 0 {
		return nil, fmt.Errorf("%w: no edge types to combine", tensor.ErrTypeNotFound)
	}
	rids := make([]int, len(etypes))
	involved := make(map[int]bool)
	for i, name := range etypes {
		r, err := g.RelationID(name)
		if err != nil {
			return nil, err
		}
		rids[i] = r
		involved[g.idx.Meta().SrcType(r)] = true
		involved[g.idx.Meta().DstType(r)] = true
	}

	var typeIDs []int
	for t := range involved {
		typeIDs = append(typeIDs, t)
	}
	sort.Slice(typeIDs, func(i, j int) bool { return g.ntypes[typeIDs[i]] < g.ntypes[typeIDs[j]] })

	offset := make(map[int]int64, len(typeIDs))
	var total int64
	var ntNames, relNames []string
	for _, t := range typeIDs {
		offset[t] = total
		total += int64(g.idx.NumNodes(t))
		ntNames = append(ntNames, g.ntypes[t])
	}
	for _, r := range rids {
		relNames = append(relNames, g.triples[r].Rel)
	}
	sort.Strings(relNames)
	mergedNT := strings.Join(ntNames, "+")
	mergedRel := strings.Join(relNames, "+")

	nodeType := make([]int64, total)
	nodeID := make([]int64, total)
	for _, t := range typeIDs {
		base := offset[t]
		for i := 0; i < g.idx.NumNodes(t); i++ {
			nodeType[base+int64(i)] = int64(t)
			nodeID[base+int64(i)] = int64(i)
		}
	}

	var src, dst, edgeType, edgeID []int64
	for _, r := range rids {
		u := g.idx.Relation(r)
		es, ed, err := u.Edges()
		if err != nil {
			return nil, err
		}
		so := offset[g.idx.Meta().SrcType(r)]
		do := offset[g.idx.Meta().DstType(r)]
		for i := 0; i < u.NumEdges(); i++ {
			src = append(src, es[i]+so)
			dst = append(dst, ed[i]+do)
			edgeType = append(edgeType, int64(r))
			edgeID = append(edgeID, int64(i))
		}
	}

	flat, err := NewGraph([]RelationEdges{{
		Triple: Triple{SrcType: mergedNT, Rel: mergedRel, DstType: mergedNT},
		Src:    src, Dst: dst,
	}}, map[string]int{mergedNT: int(total)})
	if err != nil {
		return nil, err
	}

	nf := flat.nodeFrames[0]
	for _, name := range commonColumns(g, typeIDs) {
		first, _ := g.nodeFrames[typeIDs[0]].Get(name)
		merged := tensor.Zeros(append([]int{int(total)}, first.FeatShape()...)...)
		fs := first.FeatSize()
		for _, t := range typeIDs {
			col, _ := g.nodeFrames[t].Get(name)
			copy(merged.Data()[offset[t]*int64(fs):], col.Data())
		}
		if err := nf.Set(name, merged); err != nil {
			return nil, err
		}
	}

	return &Combined{
		Graph:    flat,
		NodeType: tensor.IndexFromInts(nodeType...),
		NodeID:   tensor.IndexFromInts(nodeID...),
		EdgeType: tensor.IndexFromInts(edgeType...),
		EdgeID:   tensor.IndexFromInts(edgeID...),
	}, nil
}

// commonColumns returns the feature names shared by every listed node type
// with matching per-row shapes, in the first type's column order.
func commonColumns(g *Graph, typeIDs []int) []string {
	var out []string
	for _, name := range g.nodeFrames[typeIDs[0]].Names() {
		first, _ := g.nodeFrames[typeIDs[0]].Get(name)
		ok := true
		for _, t := range typeIDs[1:] {
			col, err := g.nodeFrames[t].Get(name)
			if err != nil || col.FeatSize() != first.FeatSize() {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, name)
		}
	}
	return out
}

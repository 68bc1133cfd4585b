// Package sampling draws neighborhood blocks for minibatch computation. A
// block is a small bipartite graph from a sampled source frontier into the
// seed destinations, carrying the ID mappings back into the parent graph.
package sampling

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Block is one sampled bipartite layer. Local destination IDs follow the
// seed order; local source IDs are numbered by first appearance. SrcNodes,
// DstNodes and EdgeIDs map local IDs back to parent IDs.
type Block struct {
	Graph    *graph.Unit
	SrcNodes *tensor.Index
	DstNodes *tensor.Index
	EdgeIDs  *tensor.Index
}

// NeighborSampler draws a fixed-size in-neighborhood per seed node.
type NeighborSampler struct {
	Fanout  int
	Replace bool
	Rng     *rand.Rand
}

// NewNeighborSampler seeds the sampler; fanout <= 0 means take every
// neighbor.
func NewNeighborSampler(fanout int, replace bool, seed int64) *NeighborSampler {
	return &NeighborSampler{Fanout: fanout, Replace: replace, Rng: rand.New(rand.NewSource(seed))}
}

// SampleNeighbors draws up to Fanout incoming edges per seed from g and
// returns the induced block. Without replacement a seed with fewer neighbors
// than the fanout keeps all of them.
func (s *NeighborSampler) SampleNeighbors(g *graph.Unit, seeds []int64) (*Block, error) {
	indptr, _, eid, err := g.CSC()
	if err != nil {
		return nil, err
	}
	ip, ed := indptr.Data(), eid.Data()

	var picked []int64
	for _, v := range seeds {
		if v < 0 || v >= int64(g.NumDst()) {
			return nil, fmt.Errorf("%w: seed %d, graph has %d destination nodes",
				tensor.ErrIndexOutOfRange, v, g.NumDst())
		}
		deg := int(ip[v+1] - ip[v])
		switch {
		case s.Fanout <= 0 || (!s.Replace && deg <= s.Fanout):
			for p := ip[v]; p < ip[v+1]; p++ {
				picked = append(picked, ed[p])
			}
		case s.Replace:
			for k := 0; k < s.Fanout; k++ {
				picked = append(picked, ed[ip[v]+int64(s.Rng.Intn(deg))])
			}
		default:
			// partial Fisher-Yates over the neighbor positions
			perm := s.Rng.Perm(deg)[:s.Fanout]
			for _, j := range perm {
				picked = append(picked, ed[ip[v]+int64(j)])
			}
		}
	}

	sub, err := g.EdgeSubgraph(picked, true)
	if err != nil {
		return nil, err
	}
	// Relabel destinations to seed order rather than edge-appearance order so
	// block outputs line up with the seed batch.
	blk, err := alignToSeeds(g, sub, picked, seeds)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("seeds", len(seeds)).Int("edges", len(picked)).
		Int("frontier", blk.SrcNodes.Len()).Msg("sampled neighbor block")
	return blk, nil
}

func alignToSeeds(g *graph.Unit, sub *graph.Subgraph, picked, seeds []int64) (*Block, error) {
	src, dst, err := g.FindEdges(picked)
	if err != nil {
		return nil, err
	}
	seedPos := make(map[int64]int64, len(seeds))
	for i, v := range seeds {
		seedPos[v] = int64(i)
	}
	ldst := make([]int64, len(dst))
	for i, v := range dst {
		ldst[i] = seedPos[v]
	}
	// keep the first-appearance source relabeling from the edge subgraph
	srcIDs := sub.InducedSrc.Data()
	srcPos := make(map[int64]int64, len(srcIDs))
	for i, u := range srcIDs {
		srcPos[u] = int64(i)
	}
	lsrc := make([]int64, len(src))
	for i, u := range src {
		lsrc[i] = srcPos[u]
	}
	bg, err := graph.FromCOOInts(len(srcIDs), len(seeds), lsrc, ldst)
	if err != nil {
		return nil, err
	}
	return &Block{
		Graph:    bg,
		SrcNodes: sub.InducedSrc,
		DstNodes: tensor.IndexFromInts(seeds...),
		EdgeIDs:  sub.InducedEdges,
	}, nil
}

// SampleBlocks draws one block per fanout, innermost layer first feeding the
// next layer's seeds with its source frontier. It also returns the layer and
// block offset arrays a multi-layer transfer message carries: layer offsets
// partition the concatenated node IDs (outermost seeds first), block offsets
// partition the concatenated edge IDs.
func (s *NeighborSampler) SampleBlocks(g *graph.Unit, seeds []int64, fanouts []int) ([]*Block, []int64, []int64, error) {
	blocks := make([]*Block, len(fanouts))
	layerOffsets := make([]int64, 0, len(fanouts)+2)
	blockOffsets := make([]int64, 0, len(fanouts)+1)
	layerOffsets = append(layerOffsets, 0, int64(len(seeds)))
	blockOffsets = append(blockOffsets, 0)

	cur := seeds
	for i, fanout := range fanouts {
		saved := s.Fanout
		s.Fanout = fanout
		blk, err := s.SampleNeighbors(g, cur)
		s.Fanout = saved
		if err != nil {
			return nil, nil, nil, err
		}
		blocks[i] = blk
		layerOffsets = append(layerOffsets, layerOffsets[len(layerOffsets)-1]+int64(blk.SrcNodes.Len()))
		blockOffsets = append(blockOffsets, blockOffsets[len(blockOffsets)-1]+int64(blk.EdgeIDs.Len()))
		cur = blk.SrcNodes.Data()
	}
	return blocks, layerOffsets, blockOffsets, nil
}

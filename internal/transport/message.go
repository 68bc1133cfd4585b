// Package transport moves sampled subgraph blocks between cluster machines
// over Arrow Flight. A transfer is one blocking DoPut per message; peers find
// each other through a cbor announce handshake against the cluster namebook.
package transport

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-quiver/internal/sampling"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Message is one transferable subgraph block: the CSC structure of the
// bipartite block graph, the ID mappings back into the parent graph, the
// multi-layer offset arrays of the sample it came from, and an optional
// feature payload for the source frontier.
type Message struct {
	ID     uuid.UUID
	Width  tensor.IndexWidth
	NumSrc int
	NumDst int

	// CSC of the block: Indptr over destinations, Indices holding local
	// source IDs, EdgeIDs holding local edge IDs in CSC position order.
	Indptr  *tensor.Index
	Indices *tensor.Index
	EdgeIDs *tensor.Index

	// NodeMap concatenates parent node IDs, destinations first then the
	// source frontier; EdgeMap holds parent edge IDs by local edge ID.
	NodeMap *tensor.Index
	EdgeMap *tensor.Index

	// Offsets of the enclosing multi-layer sample (see sampling.SampleBlocks).
	LayerOffsets *tensor.Index
	BlockOffsets *tensor.Index

	// Features is the optional payload for the source frontier, one row per
	// frontier node. Float16 storage travels as raw bits.
	Features *tensor.Dense
}

// NewMessage packages a sampled block with its sample-wide offset arrays.
// feats may be nil; otherwise it must hold one row per frontier node.
func NewMessage(blk *sampling.Block, layerOff, blockOff []int64, feats *tensor.Dense) (*Message, error) {
	if feats != nil && feats.Rows() != blk.SrcNodes.Len() {
		return nil, fmt.Errorf("%w: %d feature rows for %d frontier nodes",
			tensor.ErrShapeMismatch, feats.Rows(), blk.SrcNodes.Len())
	}
	indptr, indices, eid, err := blk.Graph.CSC()
	if err != nil {
		return nil, err
	}
	nodeMap := make([]int64, 0, blk.DstNodes.Len()+blk.SrcNodes.Len())
	nodeMap = append(nodeMap, blk.DstNodes.Data()...)
	nodeMap = append(nodeMap, blk.SrcNodes.Data()...)
	return &Message{
		ID:           uuid.New(),
		Width:        blk.Graph.Width(),
		NumSrc:       blk.Graph.NumSrc(),
		NumDst:       blk.Graph.NumDst(),
		Indptr:       indptr,
		Indices:      indices,
		EdgeIDs:      eid,
		NodeMap:      tensor.IndexFromInts(nodeMap...),
		EdgeMap:      blk.EdgeIDs,
		LayerOffsets: tensor.IndexFromInts(layerOff...),
		BlockOffsets: tensor.IndexFromInts(blockOff...),
		Features:     feats,
	}, nil
}

// DstIDs returns the parent IDs of the block's destination nodes.
func (m *Message) DstIDs() []int64 { return m.NodeMap.Data()[:m.NumDst] }

// SrcIDs returns the parent IDs of the block's source frontier.
func (m *Message) SrcIDs() []int64 { return m.NodeMap.Data()[m.NumDst:] }

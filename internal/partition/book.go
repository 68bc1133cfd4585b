// Package partition maps global node and edge IDs onto cluster machines
// under a contiguous-range policy, and persists the mapping as a book.
package partition

import (
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// PartInfo describes one partition: the machine that owns it and how many
// nodes and edges it holds.
type PartInfo struct {
	Machine  string `cbor:"machine"`
	NumNodes int64  `cbor:"num_nodes"`
	NumEdges int64  `cbor:"num_edges"`
}

// Book is the partition book. Global IDs are assigned by contiguous ranges:
// partition p owns nodes [nodeOff[p], nodeOff[p+1]) and edges
// [edgeOff[p], edgeOff[p+1]). Per-partition local node tables (ID reorders)
// are resident only for partitions owned by the local machine.
type Book struct {
	Parts []PartInfo

	nodeOff []int64
	edgeOff []int64

	machine    string
	localNodes map[int]*tensor.Index
}

// NewBook builds a book for the given partitions; machine names which
// partitions count as locally owned.
func NewBook(parts []PartInfo, machine string) *Book {
	b := &Book{
		Parts:      parts,
		machine:    machine,
		localNodes: make(map[int]*tensor.Index),
		nodeOff:    make([]int64, len(parts)+1),
		edgeOff:    make([]int64, len(parts)+1),
	}
	for p, info := range parts {
		b.nodeOff[p+1] = b.nodeOff[p] + info.NumNodes
		b.edgeOff[p+1] = b.edgeOff[p] + info.NumEdges
	}
	return b
}

// NumPartitions returns the partition count.
func (b *Book) NumPartitions() int { return len(b.Parts) }

// TotalNodes returns the global node count.
func (b *Book) TotalNodes() int64 { return b.nodeOff[len(b.nodeOff)-1] }

// TotalEdges returns the global edge count.
func (b *Book) TotalEdges() int64 { return b.edgeOff[len(b.edgeOff)-1] }

// Owned reports whether partition p belongs to the local machine.
func (b *Book) Owned(p int) bool {
	return p >= 0 && p < len(b.Parts) && b.Parts[p].Machine == b.machine
}

func searchRange(off []int64, id int64) (int, error) {
	if id < 0 || id >= off[len(off)-1] {
		return 0, fmt.Errorf("%w: global id %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, id, off[len(off)-1])
	}
	p := sort.Search(len(off)-1, func(i int) bool { return off[i+1] > id })
	return p, nil
}

// NodeToPartition maps a global node ID to its partition.
func (b *Book) NodeToPartition(global int64) (int, error) {
	return searchRange(b.nodeOff, global)
}

// EdgeToPartition maps a global edge ID to its partition.
func (b *Book) EdgeToPartition(global int64) (int, error) {
	return searchRange(b.edgeOff, global)
}

// SetLocalNodes installs the node-ID reorder table of an owned partition:
// table[local] = global. Tables of remote partitions are rejected, they are
// never resident here.
func (b *Book) SetLocalNodes(p int, table *tensor.Index) error {
	if !b.Owned(p) {
		return fmt.Errorf("%w: partition %d is not owned by %q", tensor.ErrIndexOutOfRange, p, b.machine)
	}
	if int64(table.Len()) != b.Parts[p].NumNodes {
		return fmt.Errorf("%w: table has %d entries, partition %d holds %d nodes",
			tensor.ErrShapeMismatch, table.Len(), p, b.Parts[p].NumNodes)
	}
	b.localNodes[p] = table
	return nil
}

// ToLocal maps a global node ID to (partition, local ID). Under the range
// policy the local ID is the offset into the partition's range; an installed
// reorder table refines it for owned partitions.
func (b *Book) ToLocal(global int64) (int, int64, error) {
	p, err := b.NodeToPartition(global)
	if err != nil {
		return 0, 0, err
	}
	local := global - b.nodeOff[p]
	if table, ok := b.localNodes[p]; ok {
		for i := 0; i < table.Len(); i++ {
			if table.At(i) == global {
				return p, int64(i), nil
			}
		}
		return 0, 0, fmt.Errorf("%w: global id %d missing from partition %d table", tensor.ErrIndexOutOfRange, global, p)
	}
	return p, local, nil
}

// ToGlobal maps (partition, local ID) back to the global node ID.
func (b *Book) ToGlobal(p int, local int64) (int64, error) {
	if p < 0 || p >= len(b.Parts) {
		return 0, fmt.Errorf("%w: partition %d of %d", tensor.ErrIndexOutOfRange, p, len(b.Parts))
	}
	if local < 0 || local >= b.Parts[p].NumNodes {
		return 0, fmt.Errorf("%w: local id %d, partition %d holds %d nodes",
			tensor.ErrIndexOutOfRange, local, p, b.Parts[p].NumNodes)
	}
	if table, ok := b.localNodes[p]; ok {
		return table.At(int(local)), nil
	}
	return b.nodeOff[p] + local, nil
}

type bookFile struct {
	Parts []PartInfo `cbor:"parts"`
}

// Save writes the book to path in cbor.
func (b *Book) Save(path string) error {
	data, err := cbor.Marshal(bookFile{Parts: b.Parts})
	if err != nil {
		return fmt.Errorf("encoding partition book: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing partition book: %w", err)
	}
	log.Info().Str("path", path).Int("partitions", len(b.Parts)).Msg("partition book saved")
	return nil
}

// Load reads a book from path, owning the partitions of machine.
func Load(path, machine string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading partition book: %w", err)
	}
	var f bookFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding partition book: %w", err)
	}
	return NewBook(f.Parts, machine), nil
}

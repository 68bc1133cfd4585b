package partition

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// RangePartition splits numNodes nodes into k near-equal contiguous ranges
// and assigns every edge to the partition owning its destination. It returns
// the book (machine names come from the given list, one per partition) and
// the edge order that lays edges out partition-contiguously: order[i] is the
// original ID of the edge at global position i.
func RangePartition(numNodes int64, src, dst []int64, machines []string) (*Book, []int64, error) {
	k := len(machines)
	if k == 0 {
		return nil, nil, fmt.Errorf("%w: no machines to partition over", tensor.ErrIndexOutOfRange)
	}
	if len(src) != len(dst) {
		return nil, nil, fmt.Errorf("%w: %d sources vs %d destinations", tensor.ErrShapeMismatch, len(src), len(dst))
	}

	base := numNodes / int64(k)
	rem := numNodes % int64(k)
	parts := make([]PartInfo, k)
	nodeOff := make([]int64, k+1)
	for p := 0; p < k; p++ {
		n := base
		if int64(p) < rem {
			n++
		}
		parts[p] = PartInfo{Machine: machines[p], NumNodes: n}
		nodeOff[p+1] = nodeOff[p] + n
	}

	owner := func(v int64) (int, error) {
		if v < 0 || v >= numNodes {
			return 0, fmt.Errorf("%w: node id %d, graph has %d nodes", tensor.ErrIndexOutOfRange, v, numNodes)
		}
		for p := 0; p < k; p++ {
			if v < nodeOff[p+1] {
				return p, nil
			}
		}
		return k - 1, nil
	}

	perPart := make([][]int64, k)
	for e := range dst {
		if _, err := owner(src[e]); err != nil {
			return nil, nil, err
		}
		p, err := owner(dst[e])
		if err != nil {
			return nil, nil, err
		}
		perPart[p] = append(perPart[p], int64(e))
	}
	order := make([]int64, 0, len(dst))
	for p := 0; p < k; p++ {
		parts[p].NumEdges = int64(len(perPart[p]))
		order = append(order, perPart[p]...)
	}
	return NewBook(parts, machines[0]), order, nil
}

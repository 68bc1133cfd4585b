package kernel

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/23skdu/longbow-quiver/internal/simd"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// SegmentCtx saves the segment layout and, for max/min, the row index that
// won each (segment, feature) cell.
type SegmentCtx struct {
	Reduce  ReduceKind
	Offsets []int64
	InRows  int
	Arg     *tensor.Index // nil for sum; -1 marks empty segments
	feat    []int
}

// SegmentReduce reduces contiguous row segments of x, one output row per
// segment. offsets must be monotonically increasing with offsets[0] == 0 and
// offsets[len-1] == x.Rows(). Empty segments are legal and produce 0 (sum)
// or the +-Inf sentinel (max/min).
func SegmentReduce(reduce ReduceKind, x *tensor.Dense, offsets []int64) (*tensor.Dense, *SegmentCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("segment_reduce"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("segment_reduce", "forward").Inc()

	if len(offsets) < 1 || offsets[0] != 0 {
		return nil, nil, fmt.Errorf("%w: offsets must start at 0", tensor.ErrIndexOutOfRange)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return nil, nil, fmt.Errorf("%w: offsets must be monotonically increasing", tensor.ErrIndexOutOfRange)
		}
	}
	if offsets[len(offsets)-1] != int64(x.Rows()) {
		return nil, nil, fmt.Errorf("%w: offsets end at %d, input has %d rows",
			tensor.ErrShapeMismatch, offsets[len(offsets)-1], x.Rows())
	}

	segs := len(offsets) - 1
	feat := x.FeatShape()
	fs := x.FeatSize()
	out := tensor.Zeros(append([]int{segs}, feat...)...)
	ctx := &SegmentCtx{Reduce: reduce, Offsets: append([]int64(nil), offsets...), InRows: x.Rows(), feat: feat}

	var arg []int64
	if reduce != ReduceSum {
		arg = make([]int64, segs*fs)
		for i := range arg {
			arg[i] = -1
		}
		ctx.Arg = tensor.NewIndex(tensor.Width64, arg)
	}

	xd, od := x.Data(), out.Data()
	parallelFor(segs, func(lo, hi int) {
		for s := lo; s < hi; s++ {
			row := od[s*fs : (s+1)*fs]
			init := reduceInit(reduce)
			for p := range row {
				row[p] = init
			}
			for r := offsets[s]; r < offsets[s+1]; r++ {
				src := xd[int(r)*fs : (int(r)+1)*fs]
				switch reduce {
				case ReduceSum:
					simd.Axpy32(1, row, src)
				case ReduceMax:
					for p, v := range src {
						if v > row[p] {
							row[p] = v
							arg[s*fs+p] = r
						}
					}
				case ReduceMin:
					for p, v := range src {
						if v < row[p] {
							row[p] = v
							arg[s*fs+p] = r
						}
					}
				}
			}
		}
	})
	return out, ctx, nil
}

// SegmentReduceBackward scatters the per-segment gradient back onto the
// input rows: broadcast over the whole segment for sum, only to the winning
// row for max/min. Empty segments are skipped, never divided by or written
// out of bounds.
func SegmentReduceBackward(ctx *SegmentCtx, dout *tensor.Dense) (*tensor.Dense, error) {
	kernelCalls.WithLabelValues("segment_reduce", "backward").Inc()
	segs := len(ctx.Offsets) - 1
	if dout.Rows() != segs {
		return nil, fmt.Errorf("%w: output grad has %d rows, reduction has %d segments",
			tensor.ErrShapeMismatch, dout.Rows(), segs)
	}
	fs := featSize(ctx.feat)
	dx := tensor.Zeros(append([]int{ctx.InRows}, ctx.feat...)...)
	dd, xd := dout.Data(), dx.Data()

	if ctx.Reduce == ReduceSum {
		for s := 0; s < segs; s++ {
			grad := dd[s*fs : (s+1)*fs]
			for r := ctx.Offsets[s]; r < ctx.Offsets[s+1]; r++ {
				simd.Axpy32(1, xd[int(r)*fs:(int(r)+1)*fs], grad)
			}
		}
		return dx, nil
	}
	arg := ctx.Arg.Data()
	for s := 0; s < segs; s++ {
		for p := 0; p < fs; p++ {
			r := arg[s*fs+p]
			if r < 0 {
				continue
			}
			xd[int(r)*fs+p] += dd[s*fs+p]
		}
	}
	return dx, nil
}

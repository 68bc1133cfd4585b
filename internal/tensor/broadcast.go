package tensor

import "fmt"

// BroadcastShape resolves the feature shapes of two operands under the dense
// broadcasting rule: align on the right, each axis pair must be equal or one
// of them 1, missing axes on the shorter side count as 1.
func BroadcastShape(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		case db == 1:
			out[n-i] = da
		default:
			return nil, fmt.Errorf("%w: feature shapes %v and %v do not broadcast", ErrShapeMismatch, a, b)
		}
	}
	return out, nil
}

// BroadcastStrides computes element strides for walking an operand of shape
// `shape` over the broadcast result shape `out`: expanded axes get stride 0,
// so a single flat loop over the result indexes both operands.
func BroadcastStrides(shape, out []int) []int {
	strides := make([]int, len(out))
	// Natural row-major strides of the operand, right-aligned against out.
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		pos := len(out) - (len(shape) - i)
		if shape[i] == 1 && out[pos] != 1 {
			strides[pos] = 0
		} else {
			strides[pos] = s
		}
		s *= shape[i]
	}
	return strides
}

// BroadcastOffsets precomputes, for every flat position of the broadcast
// result, the corresponding flat offset into an operand with the given
// strides. Feature shapes are small, so the table is cheap and keeps the
// per-edge kernel loops branch-free.
func BroadcastOffsets(out []int, strides []int) []int {
	total := numElems(out)
	offs := make([]int, total)
	idx := make([]int, len(out))
	for p := 0; p < total; p++ {
		off := 0
		for d := range out {
			off += idx[d] * strides[d]
		}
		offs[p] = off
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < out[d] {
				break
			}
			idx[d] = 0
		}
	}
	return offs
}

// ReduceGrad sums grad (with feature shape `from`) down to feature shape
// `to`, undoing broadcasting on the backward pass. rows is the batch length;
// grad and the result are batched on the leading axis.
func ReduceGrad(grad *Dense, rows int, to []int) *Dense {
	from := grad.FeatShape()
	if shapeEq(from, to) {
		return grad
	}
	outShape := append([]int{rows}, to...)
	out := Zeros(outShape...)
	strides := BroadcastStrides(to, from)
	offs := BroadcastOffsets(from, strides)
	fs := grad.FeatSize()
	os := out.FeatSize()
	g, o := grad.Data(), out.Data()
	for r := 0; r < rows; r++ {
		gr := g[r*fs : (r+1)*fs]
		or := o[r*os : (r+1)*os]
		for p, v := range gr {
			or[offs[p]] += v
		}
	}
	return out
}

func shapeEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SameDevice verifies co-location of dense operands.
func SameDevice(ts ...*Dense) error {
	for i := 1; i < len(ts); i++ {
		if ts[i].Device() != ts[0].Device() {
			return fmt.Errorf("%w: %s vs %s", ErrDeviceMismatch, ts[0].Device(), ts[i].Device())
		}
	}
	return nil
}

// SameWidth verifies a shared index width across index operands.
func SameWidth(xs ...*Index) error {
	for i := 1; i < len(xs); i++ {
		if xs[i].Width() != xs[0].Width() {
			return fmt.Errorf("%w: index widths %d vs %d", ErrDtypeMismatch, xs[0].Width(), xs[i].Width())
		}
	}
	return nil
}

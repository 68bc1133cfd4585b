package kernel

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// MatmulCtx saves the operands of a CSRMM call together with the produced
// pattern so the backward pass can mask gradients onto the operand patterns.
type MatmulCtx struct {
	A, B, C *graph.Unit
	WA, WB  *tensor.Dense
}

func checkWeights(g *graph.Unit, w *tensor.Dense, name string) error {
	if w.Rank() != 1 {
		return fmt.Errorf("%w: %s weights must be rank 1, got %v", tensor.ErrShapeMismatch, name, w.Shape())
	}
	if w.Rows() != g.NumEdges() {
		return fmt.Errorf("%w: %s has %d weights, graph has %d edges",
			tensor.ErrShapeMismatch, name, w.Rows(), g.NumEdges())
	}
	if w.Device() != g.Device() {
		return fmt.Errorf("%w: %s weights on %s, graph on %s",
			tensor.ErrDeviceMismatch, name, w.Device(), g.Device())
	}
	return nil
}

// CSRMM multiplies two weighted adjacency matrices and returns the product
// as a new relation graph plus its differentiable weight array. The result's
// edge IDs number its CSR entries densely (rows ascending, columns ascending
// within a row), so they correlate deterministically with the pattern.
func CSRMM(a *graph.Unit, wA *tensor.Dense, b *graph.Unit, wB *tensor.Dense) (*graph.Unit, *tensor.Dense, *MatmulCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("csrmm"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("csrmm", "forward").Inc()

	if a.NumDst() != b.NumSrc() {
		return nil, nil, nil, fmt.Errorf("%w: inner dimensions %d and %d differ",
			tensor.ErrShapeMismatch, a.NumDst(), b.NumSrc())
	}
	if a.Width() != b.Width() {
		return nil, nil, nil, fmt.Errorf("%w: operand index widths %d and %d differ",
			tensor.ErrDtypeMismatch, a.Width(), b.Width())
	}
	if err := checkWeights(a, wA, "lhs"); err != nil {
		return nil, nil, nil, err
	}
	if err := checkWeights(b, wB, "rhs"); err != nil {
		return nil, nil, nil, err
	}

	aptr, aix, aeid, err := a.CSR()
	if err != nil {
		return nil, nil, nil, err
	}
	bptr, bix, beid, err := b.CSR()
	if err != nil {
		return nil, nil, nil, err
	}

	m := a.NumSrc()
	wa, wb := wA.Data(), wB.Data()
	ap, ai, ae := aptr.Data(), aix.Data(), aeid.Data()
	bp, bi, be := bptr.Data(), bix.Data(), beid.Data()

	indptr := make([]int64, m+1)
	var indices []int64
	var weights []float32
	acc := make(map[int64]float32)
	for i := 0; i < m; i++ {
		clear(acc)
		for p := ap[i]; p < ap[i+1]; p++ {
			k := ai[p]
			av := wa[ae[p]]
			for q := bp[k]; q < bp[k+1]; q++ {
				acc[bi[q]] += av * wb[be[q]]
			}
		}
		cols := make([]int64, 0, len(acc))
		for c := range acc {
			cols = append(cols, c)
		}
		sort.Slice(cols, func(x, y int) bool { return cols[x] < cols[y] })
		for _, c := range cols {
			indices = append(indices, c)
			weights = append(weights, acc[c])
		}
		indptr[i+1] = int64(len(indices))
	}

	c, err := graph.FromCSR(m, b.NumDst(),
		tensor.NewIndex(a.Width(), indptr),
		tensor.NewIndex(a.Width(), indices), nil)
	if err != nil {
		return nil, nil, nil, err
	}
	wC := tensor.FromSlice(weights)
	return c, wC, &MatmulCtx{A: a, B: b, C: c, WA: wA, WB: wB}, nil
}

// CSRMMBackward decomposes into two further products against reversed
// operands, each masked back onto the original operand's nonzero pattern
// (the product pattern generally differs from both).
func CSRMMBackward(ctx *MatmulCtx, dC *tensor.Dense) (dwA, dwB *tensor.Dense, err error) {
	kernelCalls.WithLabelValues("csrmm", "backward").Inc()
	if err := checkWeights(ctx.C, dC, "output grad"); err != nil {
		return nil, nil, err
	}
	// dA = (dC x B^T) restricted to A's pattern.
	t1, w1, _, err := CSRMM(ctx.C, dC, ctx.B.Reverse(), ctx.WB)
	if err != nil {
		return nil, nil, err
	}
	dwA, _, err = CSRMask(t1, w1, ctx.A)
	if err != nil {
		return nil, nil, err
	}
	// dB = (A^T x dC) restricted to B's pattern.
	t2, w2, _, err := CSRMM(ctx.A.Reverse(), ctx.WA, ctx.C, dC)
	if err != nil {
		return nil, nil, err
	}
	dwB, _, err = CSRMask(t2, w2, ctx.B)
	if err != nil {
		return nil, nil, err
	}
	return dwA, dwB, nil
}

// SumCtx saves the inputs of a CSRSum call.
type SumCtx struct {
	Gs []*graph.Unit
	C  *graph.Unit
}

// CSRSum unions the sparsity patterns of the given graphs and sums weights
// at colliding positions, returning the union graph and its weights.
func CSRSum(gs []*graph.Unit, ws []*tensor.Dense) (*graph.Unit, *tensor.Dense, *SumCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("csrsum"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("csrsum", "forward").Inc()

	if len(gs) == 0 || len(gs) != len(ws) {
		return nil, nil, nil, fmt.Errorf("%w: %d graphs with %d weight arrays",
			tensor.ErrShapeMismatch, len(gs), len(ws))
	}
	m, n := gs[0].NumSrc(), gs[0].NumDst()
	for i, g := range gs {
		if g.NumSrc() != m || g.NumDst() != n {
			return nil, nil, nil, fmt.Errorf("%w: graph %d is %dx%d, want %dx%d",
				tensor.ErrShapeMismatch, i, g.NumSrc(), g.NumDst(), m, n)
		}
		if g.Width() != gs[0].Width() {
			return nil, nil, nil, fmt.Errorf("%w: graph %d index width %d, want %d",
				tensor.ErrDtypeMismatch, i, g.Width(), gs[0].Width())
		}
		if err := checkWeights(g, ws[i], fmt.Sprintf("input %d", i)); err != nil {
			return nil, nil, nil, err
		}
	}

	indptr := make([]int64, m+1)
	var indices []int64
	var weights []float32
	acc := make(map[int64]float32)
	for i := 0; i < m; i++ {
		clear(acc)
		for gi, g := range gs {
			gptr, gix, geid, err := g.CSR()
			if err != nil {
				return nil, nil, nil, err
			}
			gp, gx, ge := gptr.Data(), gix.Data(), geid.Data()
			w := ws[gi].Data()
			for p := gp[i]; p < gp[i+1]; p++ {
				acc[gx[p]] += w[ge[p]]
			}
		}
		cols := make([]int64, 0, len(acc))
		for c := range acc {
			cols = append(cols, c)
		}
		sort.Slice(cols, func(x, y int) bool { return cols[x] < cols[y] })
		for _, c := range cols {
			indices = append(indices, c)
			weights = append(weights, acc[c])
		}
		indptr[i+1] = int64(len(indices))
	}

	c, err := graph.FromCSR(m, n,
		tensor.NewIndex(gs[0].Width(), indptr),
		tensor.NewIndex(gs[0].Width(), indices), nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, tensor.FromSlice(weights), &SumCtx{Gs: gs, C: c}, nil
}

// CSRSumBackward masks the summed gradient back onto each input's pattern.
func CSRSumBackward(ctx *SumCtx, dC *tensor.Dense) ([]*tensor.Dense, error) {
	kernelCalls.WithLabelValues("csrsum", "backward").Inc()
	grads := make([]*tensor.Dense, len(ctx.Gs))
	for i, g := range ctx.Gs {
		dw, _, err := CSRMask(ctx.C, dC, g)
		if err != nil {
			return nil, err
		}
		grads[i] = dw
	}
	return grads, nil
}

// MaskCtx records, per edge of the mask pattern, which edge of the source
// graph supplied its weight (-1 where absent).
type MaskCtx struct {
	SrcEdges int
	Hits     []int64
}

// CSRMask extracts, for every nonzero position of pattern graph gB that also
// exists in gA, the corresponding weight from wA; positions absent from gA
// yield zero. A structural intersection, not a reduction: output row e
// corresponds to gB's edge ID e.
func CSRMask(gA *graph.Unit, wA *tensor.Dense, gB *graph.Unit) (*tensor.Dense, *MaskCtx, error) {
	timer := prometheus.NewTimer(kernelDuration.WithLabelValues("csrmask"))
	defer timer.ObserveDuration()
	kernelCalls.WithLabelValues("csrmask", "forward").Inc()

	if gA.NumSrc() != gB.NumSrc() || gA.NumDst() != gB.NumDst() {
		return nil, nil, fmt.Errorf("%w: mask pattern is %dx%d, source is %dx%d",
			tensor.ErrShapeMismatch, gB.NumSrc(), gB.NumDst(), gA.NumSrc(), gA.NumDst())
	}
	if err := checkWeights(gA, wA, "source"); err != nil {
		return nil, nil, err
	}
	aptr, aix, aeid, err := gA.CSR()
	if err != nil {
		return nil, nil, err
	}
	bsrc, bdst, err := gB.Edges()
	if err != nil {
		return nil, nil, err
	}

	ap, ai, ae := aptr.Data(), aix.Data(), aeid.Data()
	wa := wA.Data()
	out := make([]float32, len(bsrc))
	hits := make([]int64, len(bsrc))
	for e := range bsrc {
		hits[e] = -1
		u, v := bsrc[e], bdst[e]
		for p := ap[u]; p < ap[u+1]; p++ {
			if ai[p] == v {
				out[e] = wa[ae[p]]
				hits[e] = ae[p]
				break
			}
		}
	}
	return tensor.FromSlice(out), &MaskCtx{SrcEdges: gA.NumEdges(), Hits: hits}, nil
}

// CSRMaskBackward scatters the masked gradient back to the matched source
// edges.
func CSRMaskBackward(ctx *MaskCtx, dout *tensor.Dense) (*tensor.Dense, error) {
	kernelCalls.WithLabelValues("csrmask", "backward").Inc()
	if dout.Rows() != len(ctx.Hits) {
		return nil, fmt.Errorf("%w: output grad has %d rows, mask has %d positions",
			tensor.ErrShapeMismatch, dout.Rows(), len(ctx.Hits))
	}
	dw := tensor.Zeros(ctx.SrcEdges)
	dd, wd := dout.Data(), dw.Data()
	for e, h := range ctx.Hits {
		if h >= 0 {
			wd[h] += dd[e]
		}
	}
	return dw, nil
}

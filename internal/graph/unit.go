// Package graph implements the structural representation of a single
// relation (UnitGraph): one edge multiset over a source and a destination
// node range, lazily materialized in up to three index formats (COO, CSR,
// CSC) that all encode the same edges under one shared edge-ID numbering.
package graph

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Format is a bitmask over the physical index layouts.
type Format uint8

const (
	FormatCOO Format = 1 << iota
	FormatCSR
	FormatCSC
)

// FormatAll allows every layout.
const FormatAll = FormatCOO | FormatCSR | FormatCSC

func (f Format) String() string {
	s := ""
	if f&FormatCOO != 0 {
		s += "coo"
	}
	if f&FormatCSR != 0 {
		if s != "" {
			s += "|"
		}
		s += "csr"
	}
	if f&FormatCSC != 0 {
		if s != "" {
			s += "|"
		}
		s += "csc"
	}
	if s == "" {
		return "none"
	}
	return s
}

// cooMat stores edges as parallel src/dst arrays; the array position is the
// canonical edge ID.
type cooMat struct {
	src, dst *tensor.Index
}

// csrMat is a compressed sparse row matrix with an explicit edge-ID column.
// For CSR the rows are source nodes; for CSC the rows are destination nodes.
type csrMat struct {
	indptr, indices, eid *tensor.Index
}

// Unit is the structural graph of one canonical relation. Materialized
// formats are cached; conversions are pure and never mutate an existing
// materialization. Structural mutation invalidates every derived format.
type Unit struct {
	numSrc, numDst, numEdges int

	width tensor.IndexWidth
	dev   tensor.Device

	// allowed restricts which formats may ever be materialized. Graphs
	// produced by the CSR algebra kernels are CSR-only so their output
	// buffers stay the live autograd buffers.
	allowed Format

	coo *cooMat
	csr *csrMat
	csc *csrMat
}

// FromCOO builds a Unit from parallel src/dst arrays. Position i of the
// arrays is edge ID i.
func FromCOO(numSrc, numDst int, src, dst *tensor.Index) (*Unit, error) {
	if src.Len() != dst.Len() {
		return nil, fmt.Errorf("%w: src has %d edges, dst has %d", tensor.ErrShapeMismatch, src.Len(), dst.Len())
	}
	if err := tensor.SameWidth(src, dst); err != nil {
		return nil, err
	}
	for i, u := range src.Data() {
		if u < 0 || u >= int64(numSrc) {
			return nil, fmt.Errorf("%w: src id %d at edge %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, u, i, numSrc)
		}
	}
	for i, v := range dst.Data() {
		if v < 0 || v >= int64(numDst) {
			return nil, fmt.Errorf("%w: dst id %d at edge %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, v, i, numDst)
		}
	}
	return &Unit{
		numSrc: numSrc, numDst: numDst, numEdges: src.Len(),
		width: src.Width(), dev: src.Device(), allowed: FormatAll,
		coo: &cooMat{src: src, dst: dst},
	}, nil
}

// FromCOOInts is a convenience constructor for tests and small graphs.
func FromCOOInts(numSrc, numDst int, src, dst []int64) (*Unit, error) {
	return FromCOO(numSrc, numDst, tensor.IndexFromInts(src...), tensor.IndexFromInts(dst...))
}

// FromCSR builds a Unit whose canonical materialization is CSR. eid may be
// nil, in which case entries are numbered in CSR traversal order.
func FromCSR(numSrc, numDst int, indptr, indices, eid *tensor.Index) (*Unit, error) {
	m, err := checkCompressed(numSrc, numDst, indptr, indices, eid)
	if err != nil {
		return nil, err
	}
	return &Unit{
		numSrc: numSrc, numDst: numDst, numEdges: m.indices.Len(),
		width: indptr.Width(), dev: indptr.Device(), allowed: FormatAll,
		csr: m,
	}, nil
}

// FromCSC builds a Unit whose canonical materialization is CSC (rows are
// destination nodes).
func FromCSC(numSrc, numDst int, indptr, indices, eid *tensor.Index) (*Unit, error) {
	m, err := checkCompressed(numDst, numSrc, indptr, indices, eid)
	if err != nil {
		return nil, err
	}
	return &Unit{
		numSrc: numSrc, numDst: numDst, numEdges: m.indices.Len(),
		width: indptr.Width(), dev: indptr.Device(), allowed: FormatAll,
		csc: m,
	}, nil
}

func checkCompressed(numRows, numCols int, indptr, indices, eid *tensor.Index) (*csrMat, error) {
	if indptr.Len() != numRows+1 {
		return nil, fmt.Errorf("%w: indptr length %d, want %d", tensor.ErrShapeMismatch, indptr.Len(), numRows+1)
	}
	nnz := indices.Len()
	if indptr.At(0) != 0 || indptr.At(numRows) != int64(nnz) {
		return nil, fmt.Errorf("%w: indptr bounds [%d,%d], want [0,%d]", tensor.ErrIndexOutOfRange, indptr.At(0), indptr.At(numRows), nnz)
	}
	for i, c := range indices.Data() {
		if c < 0 || c >= int64(numCols) {
			return nil, fmt.Errorf("%w: column id %d at entry %d, valid range [0,%d)", tensor.ErrIndexOutOfRange, c, i, numCols)
		}
	}
	if eid == nil {
		ids := make([]int64, nnz)
		for i := range ids {
			ids[i] = int64(i)
		}
		eid = tensor.NewIndex(indptr.Width(), ids)
	} else if eid.Len() != nnz {
		return nil, fmt.Errorf("%w: eid length %d, want %d", tensor.ErrShapeMismatch, eid.Len(), nnz)
	}
	if err := tensor.SameWidth(indptr, indices, eid); err != nil {
		return nil, err
	}
	return &csrMat{indptr: indptr, indices: indices, eid: eid}, nil
}

// NumSrc returns the number of source nodes.
func (g *Unit) NumSrc() int { return g.numSrc }

// NumDst returns the number of destination nodes.
func (g *Unit) NumDst() int { return g.numDst }

// NumEdges returns the edge count.
func (g *Unit) NumEdges() int { return g.numEdges }

// Width returns the shared index width of every materialized buffer.
func (g *Unit) Width() tensor.IndexWidth { return g.width }

// Device returns the device tag.
func (g *Unit) Device() tensor.Device { return g.dev }

// Allowed returns the format restriction mask.
func (g *Unit) Allowed() Format { return g.allowed }

// Materialized reports which formats are currently cached.
func (g *Unit) Materialized() Format {
	var f Format
	if g.coo != nil {
		f |= FormatCOO
	}
	if g.csr != nil {
		f |= FormatCSR
	}
	if g.csc != nil {
		f |= FormatCSC
	}
	return f
}

// To materializes fmt (and only fmt) if missing, returning g for chaining.
func (g *Unit) To(f Format) (*Unit, error) {
	switch f {
	case FormatCOO:
		if _, _, err := g.COO(); err != nil {
			return nil, err
		}
	case FormatCSR:
		if _, _, _, err := g.CSR(); err != nil {
			return nil, err
		}
	case FormatCSC:
		if _, _, _, err := g.CSC(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("to: single format expected, got %s", f)
	}
	return g, nil
}

// COO returns the live (src, dst) arrays, materializing them if needed.
func (g *Unit) COO() (src, dst *tensor.Index, err error) {
	m, err := g.getCOO()
	if err != nil {
		return nil, nil, err
	}
	return m.src, m.dst, nil
}

// CSR returns the live (indptr, indices, eid) arrays with source-node rows.
func (g *Unit) CSR() (indptr, indices, eid *tensor.Index, err error) {
	m, err := g.getCSR()
	if err != nil {
		return nil, nil, nil, err
	}
	return m.indptr, m.indices, m.eid, nil
}

// CSC returns the live (indptr, indices, eid) arrays with destination-node
// rows.
func (g *Unit) CSC() (indptr, indices, eid *tensor.Index, err error) {
	m, err := g.getCSC()
	if err != nil {
		return nil, nil, nil, err
	}
	return m.indptr, m.indices, m.eid, nil
}

func (g *Unit) getCOO() (*cooMat, error) {
	if g.coo != nil {
		formatCacheHits.Inc()
		return g.coo, nil
	}
	if g.allowed&FormatCOO == 0 {
		return nil, fmt.Errorf("coo format is restricted on this graph (allowed: %s)", g.allowed)
	}
	switch {
	case g.csr != nil:
		formatConversions.WithLabelValues("csr", "coo").Inc()
		g.coo = compressedToCOO(g.csr, false, g.width)
	case g.csc != nil:
		formatConversions.WithLabelValues("csc", "coo").Inc()
		g.coo = compressedToCOO(g.csc, true, g.width)
	default:
		return nil, fmt.Errorf("graph has no materialized format")
	}
	return g.coo, nil
}

func (g *Unit) getCSR() (*csrMat, error) {
	if g.csr != nil {
		formatCacheHits.Inc()
		return g.csr, nil
	}
	if g.allowed&FormatCSR == 0 {
		return nil, fmt.Errorf("csr format is restricted on this graph (allowed: %s)", g.allowed)
	}
	if g.coo == nil && g.csc != nil {
		// CSC -> COO -> CSR keeps the conversion functions simple; the
		// intermediate COO is cached too if allowed.
		m := compressedToCOO(g.csc, true, g.width)
		if g.allowed&FormatCOO != 0 {
			g.coo = m
		}
		formatConversions.WithLabelValues("csc", "csr").Inc()
		g.csr = cooToCompressed(g.numSrc, m.src, m.dst, g.width)
		return g.csr, nil
	}
	m, err := g.getCOO()
	if err != nil {
		return nil, err
	}
	formatConversions.WithLabelValues("coo", "csr").Inc()
	g.csr = cooToCompressed(g.numSrc, m.src, m.dst, g.width)
	return g.csr, nil
}

func (g *Unit) getCSC() (*csrMat, error) {
	if g.csc != nil {
		formatCacheHits.Inc()
		return g.csc, nil
	}
	if g.allowed&FormatCSC == 0 {
		return nil, fmt.Errorf("csc format is restricted on this graph (allowed: %s)", g.allowed)
	}
	if g.coo == nil && g.csr != nil {
		m := compressedToCOO(g.csr, false, g.width)
		if g.allowed&FormatCOO != 0 {
			g.coo = m
		}
		formatConversions.WithLabelValues("csr", "csc").Inc()
		g.csc = cooToCompressed(g.numDst, m.dst, m.src, g.width)
		return g.csc, nil
	}
	m, err := g.getCOO()
	if err != nil {
		return nil, err
	}
	formatConversions.WithLabelValues("coo", "csc").Inc()
	g.csc = cooToCompressed(g.numDst, m.dst, m.src, g.width)
	return g.csc, nil
}

// cooToCompressed builds a compressed matrix over `rows` rows keyed by the
// `row` array, stable in edge-ID order so entries within a row keep insertion
// order.
func cooToCompressed(rows int, row, col *tensor.Index, w tensor.IndexWidth) *csrMat {
	nnz := row.Len()
	indptr := make([]int64, rows+1)
	for _, r := range row.Data() {
		indptr[r+1]++
	}
	for i := 0; i < rows; i++ {
		indptr[i+1] += indptr[i]
	}
	indices := make([]int64, nnz)
	eid := make([]int64, nnz)
	next := make([]int64, rows)
	copy(next, indptr[:rows])
	rd, cd := row.Data(), col.Data()
	for e := 0; e < nnz; e++ {
		r := rd[e]
		p := next[r]
		indices[p] = cd[e]
		eid[p] = int64(e)
		next[r] = p + 1
	}
	return &csrMat{
		indptr:  tensor.NewIndex(w, indptr),
		indices: tensor.NewIndex(w, indices),
		eid:     tensor.NewIndex(w, eid),
	}
}

// compressedToCOO expands a compressed matrix back to canonical COO order:
// the produced arrays are indexed by edge ID, not traversal order. transposed
// marks a CSC source (rows are destinations).
func compressedToCOO(m *csrMat, transposed bool, w tensor.IndexWidth) *cooMat {
	nnz := m.indices.Len()
	rowOf := make([]int64, nnz)
	colOf := make([]int64, nnz)
	ip, ix, eid := m.indptr.Data(), m.indices.Data(), m.eid.Data()
	for r := 0; r < m.indptr.Len()-1; r++ {
		for p := ip[r]; p < ip[r+1]; p++ {
			e := eid[p]
			rowOf[e] = int64(r)
			colOf[e] = ix[p]
		}
	}
	if transposed {
		return &cooMat{src: tensor.NewIndex(w, colOf), dst: tensor.NewIndex(w, rowOf)}
	}
	return &cooMat{src: tensor.NewIndex(w, rowOf), dst: tensor.NewIndex(w, colOf)}
}

// Reverse swaps the source and destination roles without moving data: a
// cached CSR becomes the reverse graph's CSC over the same buffers and vice
// versa; a cached COO keeps its buffers with the columns swapped. O(1).
func (g *Unit) Reverse() *Unit {
	rv := &Unit{
		numSrc: g.numDst, numDst: g.numSrc, numEdges: g.numEdges,
		width: g.width, dev: g.dev,
		allowed: swapFormatRoles(g.allowed),
		csr:     g.csc,
		csc:     g.csr,
	}
	if g.coo != nil {
		rv.coo = &cooMat{src: g.coo.dst, dst: g.coo.src}
	}
	return rv
}

func swapFormatRoles(f Format) Format {
	out := f & FormatCOO
	if f&FormatCSR != 0 {
		out |= FormatCSC
	}
	if f&FormatCSC != 0 {
		out |= FormatCSR
	}
	return out
}

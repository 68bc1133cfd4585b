package hetero

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Initializer fills rows that were never assigned an explicit value. It
// receives the full shape to produce, leading axis included.
type Initializer func(shape []int) *tensor.Dense

// ZeroInitializer is the default column initializer.
func ZeroInitializer(shape []int) *tensor.Dense { return tensor.Zeros(shape...) }

// Frame is a columnar feature table for the nodes or edges of one type:
// an ordered mapping from feature name to a dense array, every column
// sharing the same leading dimension.
type Frame struct {
	rows  int
	names []string
	cols  map[string]*tensor.Dense
	inits map[string]Initializer
}

// NewFrame creates an empty frame over rows entities.
func NewFrame(rows int) *Frame {
	return &Frame{
		rows:  rows,
		cols:  make(map[string]*tensor.Dense),
		inits: make(map[string]Initializer),
	}
}

// Rows returns the shared leading dimension.
func (f *Frame) Rows() int { return f.rows }

// Names returns the column names in insertion order.
func (f *Frame) Names() []string { return append([]string(nil), f.names...) }

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Get returns the named column.
func (f *Frame) Get(name string) (*tensor.Dense, error) {
	c, ok := f.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: feature %q", tensor.ErrTypeNotFound, name)
	}
	return c, nil
}

// Set adds or replaces a column. The leading dimension must equal the frame
// row count and the column must share the frame's device.
func (f *Frame) Set(name string, col *tensor.Dense) error {
	if col.Rows() != f.rows {
		return fmt.Errorf("%w: feature %q has %d rows, frame has %d",
			tensor.ErrShapeMismatch, name, col.Rows(), f.rows)
	}
	for _, other := range f.cols {
		if other.Device() != col.Device() {
			return fmt.Errorf("%w: feature %q on %s, frame columns on %s",
				tensor.ErrDeviceMismatch, name, col.Device(), other.Device())
		}
		break
	}
	if _, ok := f.cols[name]; !ok {
		f.names = append(f.names, name)
	}
	f.cols[name] = col
	return nil
}

// SetInitializer registers the fill used for rows added after a column
// exists (and for lazily materialized defaults).
func (f *Frame) SetInitializer(name string, init Initializer) {
	f.inits[name] = init
}

// Remove drops a column.
func (f *Frame) Remove(name string) error {
	if _, ok := f.cols[name]; !ok {
		return fmt.Errorf("%w: feature %q", tensor.ErrTypeNotFound, name)
	}
	delete(f.cols, name)
	delete(f.inits, name)
	for i, n := range f.names {
		if n == name {
			f.names = append(f.names[:i], f.names[i+1:]...)
			break
		}
	}
	return nil
}

// AddRows appends n rows to every column atomically: all new columns are
// built first and committed together, so a failure leaves the frame
// untouched. New rows are filled by each column's initializer (zeros by
// default).
func (f *Frame) AddRows(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: cannot add %d rows", tensor.ErrStructuralMutation, n)
	}
	grown := make(map[string]*tensor.Dense, len(f.cols))
	for name, col := range f.cols {
		init := f.inits[name]
		if init == nil {
			init = ZeroInitializer
		}
		tailShape := append([]int{n}, col.FeatShape()...)
		tail := init(tailShape)
		if tail.Rows() != n || tail.FeatSize() != col.FeatSize() {
			return fmt.Errorf("%w: initializer for %q produced shape %v, want %v",
				tensor.ErrShapeMismatch, name, tail.Shape(), tailShape)
		}
		merged := tensor.Zeros(append([]int{f.rows + n}, col.FeatShape()...)...)
		copy(merged.Data(), col.Data())
		copy(merged.Data()[col.Len():], tail.Data())
		grown[name] = merged
	}
	for name, col := range grown {
		f.cols[name] = col
	}
	f.rows += n
	return nil
}

// Subframe gathers the given rows into a new frame, preserving column order.
func (f *Frame) Subframe(rows []int64) (*Frame, error) {
	sub := NewFrame(len(rows))
	for _, name := range f.names {
		col := f.cols[name]
		fs := col.FeatSize()
		out := tensor.Zeros(append([]int{len(rows)}, col.FeatShape()...)...)
		for i, r := range rows {
			if r < 0 || r >= int64(f.rows) {
				return nil, fmt.Errorf("%w: row %d, frame has %d rows", tensor.ErrIndexOutOfRange, r, f.rows)
			}
			copy(out.Data()[i*fs:(i+1)*fs], col.Row(int(r)))
		}
		if err := sub.Set(name, out); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Package tensor provides the dense-array and index-array types the sparse
// kernels operate on: row-major float32 buffers with shape/dtype/device tags,
// integer index arrays with a declared 32/64-bit width, and the dense-array
// broadcasting rules shared by gSpMM and gSDDMM.
package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType identifies the element type of a feature column or wire payload.
type DType int

const (
	Float32 DType = iota
	Float16
	Int32
	Int64
	Bool
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// DeviceType enumerates backends. Only CPU computes today; the tag is carried
// and enforced so that kernels fail loudly instead of silently migrating data.
type DeviceType int

const (
	DeviceCPU DeviceType = iota
)

// Device tags a buffer with its resident backend.
type Device struct {
	Type  DeviceType
	Index int
}

// CPU is the default device tag.
var CPU = Device{Type: DeviceCPU, Index: 0}

func (d Device) String() string {
	return fmt.Sprintf("cpu:%d", d.Index)
}

// Dense is a row-major multi-dimensional float32 array. The leading axis is
// the batch axis (node or edge count); trailing axes are the feature shape.
// Float16 columns keep a uint16 storage buffer and promote to float32 lazily.
type Dense struct {
	shape []int
	data  []float32
	raw16 []uint16 // set iff dtype == Float16
	dtype DType
	dev   Device
}

// NewDense wraps data (not copied) in a Dense of the given shape.
func NewDense(shape []int, data []float32) (*Dense, error) {
	n := numElems(shape)
	if len(data) != n {
		return nil, fmt.Errorf("%w: data length %d does not match shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Dense{shape: append([]int(nil), shape...), data: data, dtype: Float32, dev: CPU}, nil
}

// Zeros allocates a zero-filled Dense.
func Zeros(shape ...int) *Dense {
	return &Dense{shape: append([]int(nil), shape...), data: make([]float32, numElems(shape)), dtype: Float32, dev: CPU}
}

// Full allocates a Dense filled with v.
func Full(v float32, shape ...int) *Dense {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// FromSlice builds a 1-D Dense copying vals.
func FromSlice(vals []float32) *Dense {
	data := make([]float32, len(vals))
	copy(data, vals)
	return &Dense{shape: []int{len(vals)}, data: data, dtype: Float32, dev: CPU}
}

func numElems(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Shape returns a copy of the full shape.
func (t *Dense) Shape() []int { return append([]int(nil), t.shape...) }

// Rank returns the number of axes.
func (t *Dense) Rank() int { return len(t.shape) }

// Rows returns the batch length (size of the leading axis).
func (t *Dense) Rows() int {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[0]
}

// FeatShape returns the trailing (per-row) shape.
func (t *Dense) FeatShape() []int {
	if len(t.shape) <= 1 {
		return nil
	}
	return append([]int(nil), t.shape[1:]...)
}

// FeatSize returns the number of elements per row.
func (t *Dense) FeatSize() int {
	if len(t.shape) <= 1 {
		return 1
	}
	return numElems(t.shape[1:])
}

// Len returns the total element count.
func (t *Dense) Len() int { return numElems(t.shape) }

// Data returns the live float32 buffer. Float16 tensors promote on first
// access and keep both buffers; the float32 view is authoritative afterward.
func (t *Dense) Data() []float32 {
	if t.data == nil && t.raw16 != nil {
		t.data = make([]float32, len(t.raw16))
		for i, b := range t.raw16 {
			t.data[i] = float16.Frombits(b).Float32()
		}
	}
	return t.data
}

// DType returns the storage dtype.
func (t *Dense) DType() DType { return t.dtype }

// Device returns the device tag.
func (t *Dense) Device() Device { return t.dev }

// Row returns the live slice backing row i.
func (t *Dense) Row(i int) []float32 {
	fs := t.FeatSize()
	return t.Data()[i*fs : (i+1)*fs]
}

// At returns the element at the flat offset i.
func (t *Dense) At(i int) float32 { return t.Data()[i] }

// Clone deep-copies the array.
func (t *Dense) Clone() *Dense {
	c := Zeros(t.shape...)
	copy(c.data, t.Data())
	c.dtype = Float32
	c.dev = t.dev
	return c
}

// Reshape returns a view with a new shape over the same buffer.
func (t *Dense) Reshape(shape ...int) (*Dense, error) {
	if numElems(shape) != t.Len() {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
	}
	return &Dense{shape: append([]int(nil), shape...), data: t.Data(), dtype: Float32, dev: t.dev}, nil
}

// ToFloat16 converts to a float16-storage Dense (lossy round to nearest even).
func (t *Dense) ToFloat16() *Dense {
	raw := make([]uint16, t.Len())
	for i, v := range t.Data() {
		raw[i] = float16.Fromfloat32(v).Bits()
	}
	return &Dense{shape: t.Shape(), raw16: raw, dtype: Float16, dev: t.dev}
}

// Raw16 returns the float16 bit buffer, or nil for float32 tensors.
func (t *Dense) Raw16() []uint16 { return t.raw16 }

// FromRaw16 wraps a float16 bit buffer (not copied) in a Dense.
func FromRaw16(shape []int, raw []uint16) (*Dense, error) {
	if len(raw) != numElems(shape) {
		return nil, fmt.Errorf("%w: buffer length %d does not match shape %v", ErrShapeMismatch, len(raw), shape)
	}
	return &Dense{shape: append([]int(nil), shape...), raw16: raw, dtype: Float16, dev: CPU}, nil
}

// AllClose reports elementwise closeness within tol. Shapes must match.
func (t *Dense) AllClose(o *Dense, tol float64) bool {
	if t.Len() != o.Len() {
		return false
	}
	a, b := t.Data(), o.Data()
	for i := range a {
		if math.Abs(float64(a[i])-float64(b[i])) > tol {
			return false
		}
	}
	return true
}

// IndexWidth declares the integer width of an index array.
type IndexWidth int

const (
	Width32 IndexWidth = 32
	Width64 IndexWidth = 64
)

// Index is an integer ID array with a declared width. The backing store is
// int64 regardless of width; the tag governs kernel compatibility checks and
// the wire encoding, not the in-memory layout.
type Index struct {
	width IndexWidth
	data  []int64
	dev   Device
}

// NewIndex wraps ids (not copied) with the given width tag.
func NewIndex(width IndexWidth, ids []int64) *Index {
	return &Index{width: width, data: ids, dev: CPU}
}

// IndexFromInts copies vals into a 64-bit index array.
func IndexFromInts(vals ...int64) *Index {
	data := make([]int64, len(vals))
	copy(data, vals)
	return &Index{width: Width64, data: data, dev: CPU}
}

// EmptyIndex allocates a zeroed index array of length n.
func EmptyIndex(width IndexWidth, n int) *Index {
	return &Index{width: width, data: make([]int64, n), dev: CPU}
}

// Len returns the number of IDs.
func (x *Index) Len() int { return len(x.data) }

// Width returns the declared integer width.
func (x *Index) Width() IndexWidth { return x.width }

// Device returns the device tag.
func (x *Index) Device() Device { return x.dev }

// Data returns the live backing slice.
func (x *Index) Data() []int64 { return x.data }

// At returns the ID at position i.
func (x *Index) At(i int) int64 { return x.data[i] }

// Set stores v at position i.
func (x *Index) Set(i int, v int64) { x.data[i] = v }

// Clone deep-copies the index array, keeping the width tag.
func (x *Index) Clone() *Index {
	data := make([]int64, len(x.data))
	copy(data, x.data)
	return &Index{width: x.width, data: data, dev: x.dev}
}

// AsWidth returns a view of the same buffer with a new width tag. Narrowing
// fails if any ID does not fit in 32 bits.
func (x *Index) AsWidth(w IndexWidth) (*Index, error) {
	if w == Width32 {
		for i, v := range x.data {
			if v > math.MaxInt32 || v < math.MinInt32 {
				return nil, fmt.Errorf("%w: id %d at %d does not fit in int32", ErrDtypeMismatch, v, i)
			}
		}
	}
	return &Index{width: w, data: x.data, dev: x.dev}, nil
}

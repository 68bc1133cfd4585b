package transport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Index columns of the wire record, in schema order.
var indexColumns = []string{
	"indptr", "indices", "edge_ids",
	"node_map", "edge_map", "layer_offsets", "block_offsets",
}

// Record encodes the message as a single-row record batch: one list column
// per index array, elements int32 or int64 per the declared width, plus an
// optional feature column (float32, or raw float16 bits as uint16). Counts
// and shapes travel in the schema metadata.
func (m *Message) Record(mem memory.Allocator) (arrow.Record, error) {
	intType := arrow.PrimitiveTypes.Int64
	if m.Width == tensor.Width32 {
		intType = arrow.PrimitiveTypes.Int32
	}

	fields := make([]arrow.Field, 0, len(indexColumns)+1)
	for _, name := range indexColumns {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.ListOf(intType)})
	}
	keys := []string{"id", "num_src", "num_dst", "width"}
	vals := []string{m.ID.String(), strconv.Itoa(m.NumSrc), strconv.Itoa(m.NumDst), strconv.Itoa(int(m.Width))}
	if m.Features != nil {
		featType := arrow.PrimitiveTypes.Float32
		featDType := "f32"
		if m.Features.DType() == tensor.Float16 {
			featType = arrow.PrimitiveTypes.Uint16
			featDType = "f16"
		}
		fields = append(fields, arrow.Field{Name: "features", Type: arrow.ListOf(featType)})
		keys = append(keys, "feat_shape", "feat_dtype")
		vals = append(vals, shapeString(m.Features.Shape()), featDType)
	}
	md := arrow.NewMetadata(keys, vals)
	schema := arrow.NewSchema(fields, &md)

	bld := array.NewRecordBuilder(mem, schema)
	defer bld.Release()

	for i, name := range indexColumns {
		appendIntList(bld.Field(i).(*array.ListBuilder), m.indexByName(name).Data())
	}
	if m.Features != nil {
		lb := bld.Field(len(indexColumns)).(*array.ListBuilder)
		lb.Append(true)
		if m.Features.DType() == tensor.Float16 {
			lb.ValueBuilder().(*array.Uint16Builder).AppendValues(m.Features.Raw16(), nil)
		} else {
			lb.ValueBuilder().(*array.Float32Builder).AppendValues(m.Features.Data(), nil)
		}
	}
	return bld.NewRecord(), nil
}

func (m *Message) indexByName(name string) *tensor.Index {
	switch name {
	case "indptr":
		return m.Indptr
	case "indices":
		return m.Indices
	case "edge_ids":
		return m.EdgeIDs
	case "node_map":
		return m.NodeMap
	case "edge_map":
		return m.EdgeMap
	case "layer_offsets":
		return m.LayerOffsets
	default:
		return m.BlockOffsets
	}
}

func appendIntList(lb *array.ListBuilder, vals []int64) {
	lb.Append(true)
	switch vb := lb.ValueBuilder().(type) {
	case *array.Int64Builder:
		vb.AppendValues(vals, nil)
	case *array.Int32Builder:
		for _, v := range vals {
			vb.Append(int32(v))
		}
	}
}

// Decode rebuilds a message from a wire record.
func Decode(rec arrow.Record) (*Message, error) {
	if rec.NumRows() != 1 {
		return nil, fmt.Errorf("%w: transfer record has %d rows, want 1", tensor.ErrShapeMismatch, rec.NumRows())
	}
	md := rec.Schema().Metadata()
	id, err := uuid.Parse(metaValue(md, "id"))
	if err != nil {
		return nil, fmt.Errorf("parsing transfer id: %w", err)
	}
	numSrc, err := strconv.Atoi(metaValue(md, "num_src"))
	if err != nil {
		return nil, fmt.Errorf("parsing num_src: %w", err)
	}
	numDst, err := strconv.Atoi(metaValue(md, "num_dst"))
	if err != nil {
		return nil, fmt.Errorf("parsing num_dst: %w", err)
	}
	w, err := strconv.Atoi(metaValue(md, "width"))
	if err != nil {
		return nil, fmt.Errorf("parsing width: %w", err)
	}
	width := tensor.IndexWidth(w)

	m := &Message{ID: id, Width: width, NumSrc: numSrc, NumDst: numDst}
	for i, name := range indexColumns {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) != 1 {
			return nil, fmt.Errorf("%w: wire record is missing column %q", tensor.ErrShapeMismatch, name)
		}
		vals, err := listInts(rec.Column(idx[0]))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		ix := tensor.NewIndex(width, vals)
		switch i {
		case 0:
			m.Indptr = ix
		case 1:
			m.Indices = ix
		case 2:
			m.EdgeIDs = ix
		case 3:
			m.NodeMap = ix
		case 4:
			m.EdgeMap = ix
		case 5:
			m.LayerOffsets = ix
		default:
			m.BlockOffsets = ix
		}
	}

	if fi := rec.Schema().FieldIndices("features"); len(fi) == 1 {
		shape, err := parseShape(metaValue(md, "feat_shape"))
		if err != nil {
			return nil, err
		}
		la := rec.Column(fi[0]).(*array.List)
		start, end := la.ValueOffsets(0)
		switch v := la.ListValues().(type) {
		case *array.Float32:
			data := append([]float32(nil), v.Float32Values()[start:end]...)
			m.Features, err = tensor.NewDense(shape, data)
		case *array.Uint16:
			raw := append([]uint16(nil), v.Uint16Values()[start:end]...)
			m.Features, err = tensor.FromRaw16(shape, raw)
		default:
			err = fmt.Errorf("%w: feature column is %s", tensor.ErrDtypeMismatch, v.DataType())
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func listInts(col arrow.Array) ([]int64, error) {
	la, ok := col.(*array.List)
	if !ok {
		return nil, fmt.Errorf("%w: column is %s, want list", tensor.ErrDtypeMismatch, col.DataType())
	}
	start, end := la.ValueOffsets(0)
	switch v := la.ListValues().(type) {
	case *array.Int64:
		return append([]int64(nil), v.Int64Values()[start:end]...), nil
	case *array.Int32:
		out := make([]int64, 0, end-start)
		for _, x := range v.Int32Values()[start:end] {
			out = append(out, int64(x))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: list elements are %s", tensor.ErrDtypeMismatch, v.DataType())
	}
}

func metaValue(md arrow.Metadata, key string) string {
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i]
	}
	return ""
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: wire record has no feat_shape", tensor.ErrShapeMismatch)
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parsing feat_shape %q: %w", s, err)
		}
		shape[i] = v
	}
	return shape, nil
}

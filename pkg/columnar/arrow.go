package columnar

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowType returns the Arrow data type whose buffer layout matches t under
// LayoutVersion.
func ArrowType(t ColumnType) (arrow.DataType, error) {
	switch t {
	case ColumnTypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case ColumnTypeInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case ColumnTypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case ColumnTypeFloat32:
		return arrow.PrimitiveTypes.Float32, nil
	case ColumnTypeFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case ColumnTypeString:
		return arrow.BinaryTypes.String, nil
	case ColumnTypeBinary:
		return arrow.BinaryTypes.Binary, nil
	case ColumnTypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case ColumnTypeDate32:
		return arrow.FixedWidthTypes.Date32, nil
	}
	return nil, fmt.Errorf("no arrow type for %s", t)
}

// ArrowSchema converts s to an Arrow schema. Every field is nullable.
func ArrowSchema(s *Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		dt, err := ArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// FromArrowType maps an Arrow type onto the column type that can hold it.
// The second result is true when the buffers can be shared as they are.
func FromArrowType(dt arrow.DataType) (ColumnType, bool, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return ColumnTypeBool, true, nil
	case arrow.INT32:
		return ColumnTypeInt32, true, nil
	case arrow.INT64:
		return ColumnTypeInt64, true, nil
	case arrow.FLOAT32:
		return ColumnTypeFloat32, true, nil
	case arrow.FLOAT64:
		return ColumnTypeFloat64, true, nil
	case arrow.STRING:
		return ColumnTypeString, true, nil
	case arrow.BINARY:
		return ColumnTypeBinary, true, nil
	case arrow.DATE32:
		return ColumnTypeDate32, true, nil
	case arrow.TIMESTAMP:
		return ColumnTypeTimestamp, dt.(*arrow.TimestampType).Unit == arrow.Microsecond, nil
	case arrow.INT8, arrow.INT16, arrow.UINT8, arrow.UINT16:
		return ColumnTypeInt32, false, nil
	case arrow.UINT32:
		return ColumnTypeInt64, false, nil
	case arrow.LARGE_STRING:
		return ColumnTypeString, false, nil
	case arrow.LARGE_BINARY:
		return ColumnTypeBinary, false, nil
	case arrow.DATE64:
		return ColumnTypeDate32, false, nil
	}
	return ColumnTypeInvalid, false, fmt.Errorf("unsupported arrow type %s", dt)
}

// SchemaFromArrow converts an Arrow schema, failing on unsupported types.
func SchemaFromArrow(s *arrow.Schema) (*Schema, error) {
	fields := make([]Field, s.NumFields())
	for i, f := range s.Fields() {
		t, _, err := FromArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = Field{Name: f.Name, Type: t}
	}
	return NewSchema(fields...)
}

// FromArrow turns an Arrow record into a Batch. Buffers of layout-compatible
// columns are shared with the record and stay alive until the batch is
// released; other columns are converted by copy.
func FromArrow(rec arrow.Record) (*Batch, error) {
	schema, err := SchemaFromArrow(rec.Schema())
	if err != nil {
		return nil, err
	}
	cols := make([]*Column, rec.NumCols())
	for i, arr := range rec.Columns() {
		col, err := columnFromArrow(schema.Fields[i], arr)
		if err != nil {
			for _, c := range cols[:i] {
				c.release()
			}
			return nil, err
		}
		cols[i] = col
	}
	return NewBatch(schema, cols)
}

func shareArrowBuffer(buf *memory.Buffer) *Buffer {
	if buf == nil {
		return nil
	}
	buf.Retain()
	return NewBufferWithRelease(buf.Bytes(), buf.Release)
}

func columnFromArrow(field Field, arr arrow.Array) (*Column, error) {
	_, shared, err := FromArrowType(arr.DataType())
	if err != nil {
		return nil, err
	}
	if !shared {
		return copyFromArrow(field, arr)
	}
	data := arr.Data()
	bufs := data.Buffers()
	var validity *Buffer
	if arr.NullN() > 0 {
		validity = shareArrowBuffer(bufs[0])
	}
	var values, offsets *Buffer
	if field.Type.IsVarWidth() {
		offsets = shareArrowBuffer(bufs[1])
		values = shareArrowBuffer(bufs[2])
		if offsets == nil {
			// zero-length arrays may carry no offsets buffer
			offsets = NewBuffer(arrow.Int32Traits.CastToBytes([]int32{0}))
		}
	} else {
		values = shareArrowBuffer(bufs[1])
	}
	return NewColumn(field.Name, field.Type, data.Len(), data.Offset(), arr.NullN(), validity, values, offsets), nil
}

func copyFromArrow(field Field, arr arrow.Array) (*Column, error) {
	b := NewColumnBuilder(field, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			b.AppendNull()
			continue
		}
		var err error
		switch a := arr.(type) {
		case *array.Int8:
			b.AppendInt32(int32(a.Value(i)))
		case *array.Int16:
			b.AppendInt32(int32(a.Value(i)))
		case *array.Uint8:
			b.AppendInt32(int32(a.Value(i)))
		case *array.Uint16:
			b.AppendInt32(int32(a.Value(i)))
		case *array.Uint32:
			b.AppendInt64(int64(a.Value(i)))
		case *array.LargeString:
			b.AppendString(a.Value(i))
		case *array.LargeBinary:
			b.AppendBytes(a.Value(i))
		case *array.Date64:
			b.AppendTime(a.Value(i).ToTime())
		case *array.Timestamp:
			unit := a.DataType().(*arrow.TimestampType).Unit
			b.AppendTime(a.Value(i).ToTime(unit))
		default:
			err = fmt.Errorf("column %q: cannot convert %s", field.Name, arr.DataType())
		}
		if err != nil {
			b.NewColumn().release()
			return nil, err
		}
	}
	return b.NewColumn(), nil
}

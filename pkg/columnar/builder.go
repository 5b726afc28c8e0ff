package columnar

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
)

// ColumnBuilder accumulates values for one column and produces a Column laid
// out per LayoutVersion.
type ColumnBuilder struct {
	field  Field
	length int
	nulls  int

	validity []byte
	bits     []byte
	i32      []int32
	i64      []int64
	f32      []float32
	f64      []float64
	offsets  []int32
	data     []byte
}

// NewColumnBuilder creates a builder for field sized for capacity rows.
func NewColumnBuilder(field Field, capacity int) *ColumnBuilder {
	b := &ColumnBuilder{field: field}
	b.reserve(capacity)
	return b
}

func (b *ColumnBuilder) reserve(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	switch b.field.Type {
	case ColumnTypeInt32, ColumnTypeDate32:
		b.i32 = make([]int32, 0, capacity)
	case ColumnTypeInt64, ColumnTypeTimestamp:
		b.i64 = make([]int64, 0, capacity)
	case ColumnTypeFloat32:
		b.f32 = make([]float32, 0, capacity)
	case ColumnTypeFloat64:
		b.f64 = make([]float64, 0, capacity)
	case ColumnTypeBool:
		b.bits = make([]byte, 0, bitutil.BytesForBits(int64(capacity)))
	case ColumnTypeString, ColumnTypeBinary:
		b.offsets = make([]int32, 1, capacity+1)
	}
}

// Field returns the field being built.
func (b *ColumnBuilder) Field() Field { return b.field }

// Len returns the number of appended values.
func (b *ColumnBuilder) Len() int { return b.length }

// NullN returns the number of appended nulls.
func (b *ColumnBuilder) NullN() int { return b.nulls }

func growBitmap(bm []byte, length int) []byte {
	need := int(bitutil.BytesForBits(int64(length)))
	for len(bm) < need {
		bm = append(bm, 0)
	}
	return bm
}

func (b *ColumnBuilder) markValid(valid bool) {
	b.validity = growBitmap(b.validity, b.length+1)
	if valid {
		bitutil.SetBit(b.validity, b.length)
	} else {
		b.nulls++
	}
	b.length++
}

// AppendNull appends a null slot. Fixed width slots are zero-filled and
// variable width slots are empty.
func (b *ColumnBuilder) AppendNull() {
	switch b.field.Type {
	case ColumnTypeInt32, ColumnTypeDate32:
		b.i32 = append(b.i32, 0)
	case ColumnTypeInt64, ColumnTypeTimestamp:
		b.i64 = append(b.i64, 0)
	case ColumnTypeFloat32:
		b.f32 = append(b.f32, 0)
	case ColumnTypeFloat64:
		b.f64 = append(b.f64, 0)
	case ColumnTypeBool:
		b.bits = growBitmap(b.bits, b.length+1)
	case ColumnTypeString, ColumnTypeBinary:
		b.offsets = append(b.offsets, int32(len(b.data)))
	}
	b.markValid(false)
}

func (b *ColumnBuilder) AppendBool(v bool) {
	b.bits = growBitmap(b.bits, b.length+1)
	if v {
		bitutil.SetBit(b.bits, b.length)
	}
	b.markValid(true)
}

func (b *ColumnBuilder) AppendInt32(v int32) {
	b.i32 = append(b.i32, v)
	b.markValid(true)
}

func (b *ColumnBuilder) AppendInt64(v int64) {
	b.i64 = append(b.i64, v)
	b.markValid(true)
}

func (b *ColumnBuilder) AppendFloat32(v float32) {
	b.f32 = append(b.f32, v)
	b.markValid(true)
}

func (b *ColumnBuilder) AppendFloat64(v float64) {
	b.f64 = append(b.f64, v)
	b.markValid(true)
}

// AppendBytes appends a string or binary value. v is copied.
func (b *ColumnBuilder) AppendBytes(v []byte) {
	b.data = append(b.data, v...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.markValid(true)
}

func (b *ColumnBuilder) AppendString(v string) {
	b.data = append(b.data, v...)
	b.offsets = append(b.offsets, int32(len(b.data)))
	b.markValid(true)
}

// AppendTime appends t as a timestamp or a date depending on the column type.
func (b *ColumnBuilder) AppendTime(t time.Time) {
	if b.field.Type == ColumnTypeDate32 {
		b.AppendInt32(DaysSinceEpoch(t))
		return
	}
	b.AppendInt64(t.UnixMicro())
}

// DaysSinceEpoch converts t to the date32 representation.
func DaysSinceEpoch(t time.Time) int32 {
	t = t.UTC()
	return int32(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// Append converts a decoded Go value into the column type and appends it.
// nil appends a null. Strings are parsed with AppendText.
func (b *ColumnBuilder) Append(v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch x := v.(type) {
	case string:
		return b.AppendText(x)
	case []byte:
		if b.field.Type.IsVarWidth() {
			b.AppendBytes(x)
			return nil
		}
		return b.AppendText(string(x))
	case *string:
		if x == nil {
			b.AppendNull()
			return nil
		}
		return b.AppendText(*x)
	case time.Time:
		switch b.field.Type {
		case ColumnTypeTimestamp, ColumnTypeDate32:
			b.AppendTime(x)
			return nil
		case ColumnTypeString:
			b.AppendString(x.UTC().Format(time.RFC3339Nano))
			return nil
		}
	case bool:
		switch b.field.Type {
		case ColumnTypeBool:
			b.AppendBool(x)
			return nil
		case ColumnTypeString:
			b.AppendString(fmt.Sprint(x))
			return nil
		}
	case float32:
		return b.appendFloat(float64(x), v)
	case float64:
		return b.appendFloat(x, v)
	case interface {
		Int64() (int64, error)
		Float64() (float64, error)
	}:
		// json.Number and friends
		if i, err := x.Int64(); err == nil {
			return b.appendInt(i, v)
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("column %q: %w", b.field.Name, err)
		}
		return b.appendFloat(f, v)
	}
	if i, ok := asInt64(v); ok {
		return b.appendInt(i, v)
	}
	if b.field.Type == ColumnTypeString {
		b.AppendString(fmt.Sprint(v))
		return nil
	}
	return fmt.Errorf("column %q: cannot store %T as %s", b.field.Name, v, b.field.Type)
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func (b *ColumnBuilder) appendInt(i int64, orig interface{}) error {
	switch b.field.Type {
	case ColumnTypeInt32, ColumnTypeDate32:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return fmt.Errorf("column %q: %d overflows %s", b.field.Name, i, b.field.Type)
		}
		b.AppendInt32(int32(i))
	case ColumnTypeInt64, ColumnTypeTimestamp:
		b.AppendInt64(i)
	case ColumnTypeFloat32:
		b.AppendFloat32(float32(i))
	case ColumnTypeFloat64:
		b.AppendFloat64(float64(i))
	case ColumnTypeBool:
		b.AppendBool(i != 0)
	case ColumnTypeString:
		b.AppendString(fmt.Sprint(orig))
	default:
		return fmt.Errorf("column %q: cannot store %T as %s", b.field.Name, orig, b.field.Type)
	}
	return nil
}

func (b *ColumnBuilder) appendFloat(f float64, orig interface{}) error {
	switch b.field.Type {
	case ColumnTypeFloat32:
		b.AppendFloat32(float32(f))
	case ColumnTypeFloat64:
		b.AppendFloat64(f)
	case ColumnTypeInt32, ColumnTypeInt64, ColumnTypeTimestamp, ColumnTypeDate32:
		if f != math.Trunc(f) {
			return fmt.Errorf("column %q: %v is not integral", b.field.Name, f)
		}
		return b.appendInt(int64(f), orig)
	case ColumnTypeString:
		b.AppendString(fmt.Sprint(orig))
	default:
		return fmt.Errorf("column %q: cannot store %T as %s", b.field.Name, orig, b.field.Type)
	}
	return nil
}

// NewColumn returns the built column and resets the builder.
func (b *ColumnBuilder) NewColumn() *Column {
	var values, offsets, validity *Buffer
	switch b.field.Type {
	case ColumnTypeInt32, ColumnTypeDate32:
		values = NewBuffer(arrow.Int32Traits.CastToBytes(b.i32))
	case ColumnTypeInt64, ColumnTypeTimestamp:
		values = NewBuffer(arrow.Int64Traits.CastToBytes(b.i64))
	case ColumnTypeFloat32:
		values = NewBuffer(arrow.Float32Traits.CastToBytes(b.f32))
	case ColumnTypeFloat64:
		values = NewBuffer(arrow.Float64Traits.CastToBytes(b.f64))
	case ColumnTypeBool:
		values = NewBuffer(growBitmap(b.bits, b.length))
	case ColumnTypeString, ColumnTypeBinary:
		values = NewBuffer(b.data)
		offsets = NewBuffer(arrow.Int32Traits.CastToBytes(b.offsets))
	}
	if b.nulls > 0 {
		validity = NewBuffer(b.validity)
	}
	col := NewColumn(b.field.Name, b.field.Type, b.length, 0, b.nulls, validity, values, offsets)

	*b = ColumnBuilder{field: b.field}
	b.reserve(0)
	return col
}

// BatchBuilder builds batches row by row against a fixed schema.
type BatchBuilder struct {
	schema   *Schema
	builders []*ColumnBuilder
	capacity int
}

// NewBatchBuilder creates a builder with per-column capacity for capacity rows.
func NewBatchBuilder(schema *Schema, capacity int) *BatchBuilder {
	bb := &BatchBuilder{schema: schema, capacity: capacity}
	bb.builders = make([]*ColumnBuilder, len(schema.Fields))
	for i, f := range schema.Fields {
		bb.builders[i] = NewColumnBuilder(f, capacity)
	}
	return bb
}

// Schema returns the target schema.
func (bb *BatchBuilder) Schema() *Schema { return bb.schema }

// Column returns the builder of column i.
func (bb *BatchBuilder) Column(i int) *ColumnBuilder { return bb.builders[i] }

// Len returns the number of complete rows appended so far.
func (bb *BatchBuilder) Len() int {
	if len(bb.builders) == 0 {
		return 0
	}
	return bb.builders[0].Len()
}

// AppendRow appends one value per column. On error no column is left
// partially appended.
func (bb *BatchBuilder) AppendRow(values []interface{}) error {
	if len(values) != len(bb.builders) {
		return fmt.Errorf("row has %d values, schema has %d fields", len(values), len(bb.builders))
	}
	row := bb.Len()
	for i, v := range values {
		if err := bb.builders[i].Append(v); err != nil {
			bb.truncate(row)
			return err
		}
	}
	return nil
}

// AppendRecord appends the values of rec by field name. Missing fields are
// null; fields outside the schema are ignored.
func (bb *BatchBuilder) AppendRecord(rec map[string]interface{}) error {
	values := make([]interface{}, len(bb.schema.Fields))
	for i, f := range bb.schema.Fields {
		values[i] = rec[f.Name]
	}
	return bb.AppendRow(values)
}

// truncate drops values past row by rebuilding affected columns. It runs only
// on the error path.
func (bb *BatchBuilder) truncate(row int) {
	for i, cb := range bb.builders {
		if cb.Len() == row {
			continue
		}
		col := cb.NewColumn()
		fresh := NewColumnBuilder(cb.field, bb.capacity)
		for r := 0; r < row; r++ {
			if col.IsNull(r) {
				fresh.AppendNull()
				continue
			}
			_ = fresh.Append(col.Value(r))
		}
		col.release()
		bb.builders[i] = fresh
	}
}

// NewBatch returns the batch built so far and resets the builder.
func (bb *BatchBuilder) NewBatch() (*Batch, error) {
	cols := make([]*Column, len(bb.builders))
	for i, cb := range bb.builders {
		cols[i] = cb.NewColumn()
		cb.reserve(bb.capacity)
	}
	return NewBatch(bb.schema, cols)
}

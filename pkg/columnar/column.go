package columnar

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
)

// LayoutVersion tags the memory layout every Batch is built against:
//   - validity: LSB-ordered bitmap, bit set means valid, nil when no nulls
//   - bool values: LSB-ordered bitmap
//   - fixed width values: little-endian, ByteWidth bytes per slot
//   - string/binary: int32 offsets (length+1 entries) plus a data buffer
//
// Consumers reinterpreting buffers must check the tag first.
const LayoutVersion uint32 = 1

// Column is one named, typed value sequence. It holds references on its
// buffers and is immutable.
type Column struct {
	name      string
	typ       ColumnType
	length    int
	offset    int
	nullCount int

	validity *Buffer
	values   *Buffer
	offsets  *Buffer
}

// NewColumn assembles a column from buffers. The column takes over the
// caller's references; callers that keep using a buffer must Retain it first.
func NewColumn(name string, typ ColumnType, length, offset, nullCount int, validity, values, offsets *Buffer) *Column {
	return &Column{
		name:      name,
		typ:       typ,
		length:    length,
		offset:    offset,
		nullCount: nullCount,
		validity:  validity,
		values:    values,
		offsets:   offsets,
	}
}

func (c *Column) Name() string      { return c.name }
func (c *Column) Type() ColumnType  { return c.typ }
func (c *Column) Len() int          { return c.length }
func (c *Column) Offset() int       { return c.offset }
func (c *Column) NullN() int        { return c.nullCount }
func (c *Column) Validity() *Buffer { return c.validity }
func (c *Column) Values() *Buffer   { return c.values }
func (c *Column) Offsets() *Buffer  { return c.offsets }

// Field returns the column's name and type.
func (c *Column) Field() Field { return Field{Name: c.name, Type: c.typ} }

func (c *Column) retain() {
	c.validity.Retain()
	c.values.Retain()
	c.offsets.Retain()
}

func (c *Column) release() {
	c.validity.Release()
	c.values.Release()
	c.offsets.Release()
}

// slice returns a column viewing rows [i, j) of c, sharing its buffers.
func (c *Column) slice(i, j int) *Column {
	c.retain()
	out := &Column{
		name:     c.name,
		typ:      c.typ,
		length:   j - i,
		offset:   c.offset + i,
		validity: c.validity,
		values:   c.values,
		offsets:  c.offsets,
	}
	if c.nullCount == 0 || c.validity == nil {
		out.nullCount = 0
	} else {
		out.nullCount = out.length - bitutil.CountSetBits(c.validity.Bytes(), out.offset, out.length)
	}
	return out
}

// IsNull reports whether row i is null.
func (c *Column) IsNull(i int) bool {
	if c.nullCount == 0 || c.validity == nil {
		return false
	}
	return bitutil.BitIsNotSet(c.validity.Bytes(), c.offset+i)
}

// Bool returns row i of a bool column.
func (c *Column) Bool(i int) bool {
	return bitutil.BitIsSet(c.values.Bytes(), c.offset+i)
}

// Int32 returns row i of an int32 or date32 column.
func (c *Column) Int32(i int) int32 {
	return arrow.Int32Traits.CastFromBytes(c.values.Bytes())[c.offset+i]
}

// Int64 returns row i of an int64 or timestamp column.
func (c *Column) Int64(i int) int64 {
	return arrow.Int64Traits.CastFromBytes(c.values.Bytes())[c.offset+i]
}

// Float32 returns row i of a float32 column.
func (c *Column) Float32(i int) float32 {
	return arrow.Float32Traits.CastFromBytes(c.values.Bytes())[c.offset+i]
}

// Float64 returns row i of a float64 column.
func (c *Column) Float64(i int) float64 {
	return arrow.Float64Traits.CastFromBytes(c.values.Bytes())[c.offset+i]
}

// Bytes returns row i of a string or binary column without copying.
func (c *Column) Bytes(i int) []byte {
	offs := arrow.Int32Traits.CastFromBytes(c.offsets.Bytes())
	beg, end := offs[c.offset+i], offs[c.offset+i+1]
	return c.values.Bytes()[beg:end]
}

// String returns row i of a string column.
func (c *Column) String(i int) string {
	return string(c.Bytes(i))
}

// Value returns row i boxed as a Go value, nil for nulls.
func (c *Column) Value(i int) interface{} {
	if c.IsNull(i) {
		return nil
	}
	switch c.typ {
	case ColumnTypeBool:
		return c.Bool(i)
	case ColumnTypeInt32:
		return c.Int32(i)
	case ColumnTypeInt64:
		return c.Int64(i)
	case ColumnTypeFloat32:
		return c.Float32(i)
	case ColumnTypeFloat64:
		return c.Float64(i)
	case ColumnTypeString:
		return c.String(i)
	case ColumnTypeBinary:
		return c.Bytes(i)
	case ColumnTypeTimestamp:
		return time.UnixMicro(c.Int64(i)).UTC()
	case ColumnTypeDate32:
		return time.Unix(int64(c.Int32(i))*86400, 0).UTC()
	}
	panic(fmt.Sprintf("columnar: value of %s column", c.typ))
}

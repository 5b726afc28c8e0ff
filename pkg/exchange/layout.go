package exchange

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/bitutil"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// VerifyLayout checks that batch can be reinterpreted as Arrow: the layout
// tag must match SupportedLayout and every column's buffers must be large
// enough and internally consistent for its type.
func VerifyLayout(batch *columnar.Batch) error {
	if batch == nil {
		return errors.New(errors.ErrorTypeConversion, "batch is nil")
	}
	if batch.Layout() != SupportedLayout {
		return errors.Newf(errors.ErrorTypeConversion,
			"layout version %d is not supported (converter supports %d)", batch.Layout(), SupportedLayout)
	}
	for _, col := range batch.Columns() {
		if col.Len() != batch.NumRows() {
			return columnError(col, "has %d rows, batch has %d", col.Len(), batch.NumRows())
		}
		if err := verifyColumn(col); err != nil {
			return err
		}
	}
	return nil
}

func columnError(col *columnar.Column, format string, args ...interface{}) error {
	return errors.Newf(errors.ErrorTypeConversion, "column %q: "+format, append([]interface{}{col.Name()}, args...)...).
		WithDetail("column", col.Name())
}

func verifyColumn(col *columnar.Column) error {
	if _, err := columnar.ArrowType(col.Type()); err != nil {
		return columnError(col, "unsupported type %s", col.Type())
	}
	length, offset := col.Len(), col.Offset()
	if length < 0 || offset < 0 {
		return columnError(col, "negative length %d or offset %d", length, offset)
	}
	end := int64(offset + length)

	nulls := col.NullN()
	if nulls < 0 || nulls > length {
		return columnError(col, "null count %d outside [0, %d]", nulls, length)
	}
	if nulls > 0 {
		v := col.Validity()
		if v == nil {
			return columnError(col, "has %d nulls but no validity bitmap", nulls)
		}
		if int64(v.Len()) < bitutil.BytesForBits(end) {
			return columnError(col, "validity bitmap has %d bytes, needs %d", v.Len(), bitutil.BytesForBits(end))
		}
		if set := bitutil.CountSetBits(v.Bytes(), offset, length); length-set != nulls {
			return columnError(col, "null count %d disagrees with validity bitmap (%d)", nulls, length-set)
		}
	}
	if length == 0 {
		return nil
	}

	values := col.Values()
	switch {
	case col.Type() == columnar.ColumnTypeBool:
		if values == nil || int64(values.Len()) < bitutil.BytesForBits(end) {
			return columnError(col, "value bitmap too short for %d slots", end)
		}
	case col.Type().IsVarWidth():
		return verifyOffsets(col, values.Len())
	default:
		need := int64(col.Type().ByteWidth()) * end
		if values == nil || int64(values.Len()) < need {
			return columnError(col, "value buffer has %d bytes, needs %d", values.Len(), need)
		}
	}
	return nil
}

func verifyOffsets(col *columnar.Column, dataLen int) error {
	ob := col.Offsets()
	need := 4 * (col.Offset() + col.Len() + 1)
	if ob == nil || ob.Len() < need {
		return columnError(col, "offsets buffer has %d bytes, needs %d", ob.Len(), need)
	}
	offs := arrow.Int32Traits.CastFromBytes(ob.Bytes())
	first := col.Offset()
	last := first + col.Len()
	if offs[first] < 0 {
		return columnError(col, "negative first offset %d", offs[first])
	}
	for i := first; i < last; i++ {
		if offs[i+1] < offs[i] {
			return columnError(col, "offsets decrease at slot %d", i)
		}
	}
	if int(offs[last]) > dataLen {
		return columnError(col, "offset %d beyond data buffer of %d bytes", offs[last], dataLen)
	}
	return nil
}

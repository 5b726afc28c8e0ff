package exchange

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// SupportedLayout is the columnar layout version this converter can
// reinterpret as Arrow.
const SupportedLayout = columnar.LayoutVersion

// bufferOwner adapts a columnar buffer reference to memory.Allocator so that
// Arrow's release of the wrapping buffer drops that reference.
type bufferOwner struct {
	buf *columnar.Buffer
}

func (o *bufferOwner) Allocate(int) []byte {
	panic("exchange: shared buffers cannot allocate")
}

func (o *bufferOwner) Reallocate(int, []byte) []byte {
	panic("exchange: shared buffers cannot reallocate")
}

func (o *bufferOwner) Free([]byte) {
	o.buf.Release()
}

// share returns an Arrow buffer over the same bytes as b. The Arrow buffer
// owns one reference on b.
func share(b *columnar.Buffer) *memory.Buffer {
	if b == nil {
		return nil
	}
	b.Retain()
	return memory.NewBufferWithAllocator(b.Bytes(), &bufferOwner{buf: b})
}

// ToRecord converts batch into an Arrow record sharing the batch's buffers.
// The caller keeps its reference on batch and owns the returned record.
func ToRecord(batch *columnar.Batch) (arrow.Record, error) {
	if err := VerifyLayout(batch); err != nil {
		return nil, err
	}
	schema, err := columnar.ArrowSchema(batch.Schema())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "map schema")
	}

	arrs := make([]arrow.Array, batch.NumCols())
	defer func() {
		for _, a := range arrs {
			if a != nil {
				a.Release()
			}
		}
	}()
	for i, col := range batch.Columns() {
		arr, err := toArray(schema.Field(i).Type, col)
		if err != nil {
			return nil, err
		}
		arrs[i] = arr
	}
	return array.NewRecord(schema, arrs, int64(batch.NumRows())), nil
}

func toArray(dt arrow.DataType, col *columnar.Column) (arrow.Array, error) {
	var bufs []*memory.Buffer
	if col.Type().IsVarWidth() {
		bufs = []*memory.Buffer{share(col.Validity()), share(col.Offsets()), share(col.Values())}
	} else {
		bufs = []*memory.Buffer{share(col.Validity()), share(col.Values())}
	}
	data := array.NewData(dt, col.Len(), bufs, nil, col.NullN(), col.Offset())
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
	defer data.Release()
	return array.MakeFromData(data), nil
}

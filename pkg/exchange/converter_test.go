package exchange

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/fedstream/pkg/columnar"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

func buildBatch(t *testing.T) *columnar.Batch {
	t.Helper()
	schema, err := columnar.ParseSchema("id:int64,name:string,ok:bool,score:float32,day:date32")
	require.NoError(t, err)
	bb := columnar.NewBatchBuilder(schema, 4)
	require.NoError(t, bb.AppendRow([]interface{}{int64(1), "ann", true, float32(1.5), "2024-01-01"}))
	require.NoError(t, bb.AppendRow([]interface{}{int64(2), nil, false, nil, "2024-01-02"}))
	require.NoError(t, bb.AppendRow([]interface{}{int64(3), "cy", nil, float32(3.5), nil}))
	require.NoError(t, bb.AppendRow([]interface{}{nil, "dee", true, float32(4), "2024-01-04"}))
	batch, err := bb.NewBatch()
	require.NoError(t, err)
	return batch
}

func TestToRecordPreservesBufferIdentity(t *testing.T) {
	batch := buildBatch(t)
	defer batch.Release()

	rec, err := ToRecord(batch)
	require.NoError(t, err)
	defer rec.Release()

	require.Equal(t, int64(4), rec.NumRows())
	require.Equal(t, int64(5), rec.NumCols())
	for i, col := range batch.Columns() {
		bufs := rec.Column(i).Data().Buffers()
		if col.Validity() != nil {
			assert.True(t, columnar.SameStorage(col.Validity().Bytes(), bufs[0].Bytes()), "validity of %s", col.Name())
		}
		if col.Type().IsVarWidth() {
			assert.True(t, columnar.SameStorage(col.Offsets().Bytes(), bufs[1].Bytes()), "offsets of %s", col.Name())
			assert.True(t, columnar.SameStorage(col.Values().Bytes(), bufs[2].Bytes()), "data of %s", col.Name())
		} else {
			assert.True(t, columnar.SameStorage(col.Values().Bytes(), bufs[1].Bytes()), "values of %s", col.Name())
		}
	}

	ids := rec.Column(0).(*array.Int64)
	assert.Equal(t, []int64{1, 2, 3}, ids.Int64Values()[:3])
	assert.True(t, ids.IsNull(3))
	names := rec.Column(1).(*array.String)
	assert.Equal(t, "ann", names.Value(0))
	assert.True(t, names.IsNull(1))
	assert.Equal(t, "dee", names.Value(3))
	assert.True(t, rec.Column(2).(*array.Boolean).Value(0))
	assert.True(t, rec.Column(2).IsNull(2))
	assert.Equal(t, float32(3.5), rec.Column(3).(*array.Float32).Value(2))
	assert.Equal(t, arrow.Date32(19724), rec.Column(4).(*array.Date32).Value(1))
}

func TestRecordKeepsBuffersAlive(t *testing.T) {
	released := 0
	values := columnar.NewBufferWithRelease(arrow.Int64Traits.CastToBytes([]int64{7, 8, 9}), func() { released++ })
	col := columnar.NewColumn("v", columnar.ColumnTypeInt64, 3, 0, 0, nil, values, nil)
	schema, err := columnar.NewSchema(col.Field())
	require.NoError(t, err)
	batch, err := columnar.NewBatch(schema, []*columnar.Column{col})
	require.NoError(t, err)

	rec, err := ToRecord(batch)
	require.NoError(t, err)

	batch.Release()
	assert.Equal(t, 0, released)
	assert.Equal(t, int64(9), rec.Column(0).(*array.Int64).Value(2))

	rec.Release()
	assert.Equal(t, 1, released)
}

func TestToRecordSlicedBatch(t *testing.T) {
	batch := buildBatch(t)
	sliced, err := batch.Slice(1, 4)
	require.NoError(t, err)
	batch.Release()
	defer sliced.Release()

	rec, err := ToRecord(sliced)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(3), rec.NumRows())
	assert.Equal(t, int64(2), rec.Column(0).(*array.Int64).Value(0))
	assert.Equal(t, "cy", rec.Column(1).(*array.String).Value(1))
	assert.Equal(t, 1, rec.Column(1).NullN())
}

func TestVerifyLayoutRejects(t *testing.T) {
	int64Field := columnar.Field{Name: "v", Type: columnar.ColumnTypeInt64}
	stringField := columnar.Field{Name: "s", Type: columnar.ColumnTypeString}
	i64 := func(vals ...int64) *columnar.Buffer {
		return columnar.NewBuffer(arrow.Int64Traits.CastToBytes(vals))
	}
	i32 := func(vals ...int32) *columnar.Buffer {
		return columnar.NewBuffer(arrow.Int32Traits.CastToBytes(vals))
	}

	tests := []struct {
		name   string
		layout uint32
		field  columnar.Field
		col    *columnar.Column
	}{
		{
			name:   "layout version mismatch",
			layout: SupportedLayout + 1,
			field:  int64Field,
			col:    columnar.NewColumn("v", columnar.ColumnTypeInt64, 2, 0, 0, nil, i64(1, 2), nil),
		},
		{
			name:   "short value buffer",
			layout: SupportedLayout,
			field:  int64Field,
			col:    columnar.NewColumn("v", columnar.ColumnTypeInt64, 4, 0, 0, nil, i64(1, 2), nil),
		},
		{
			name:   "offset past values",
			layout: SupportedLayout,
			field:  int64Field,
			col:    columnar.NewColumn("v", columnar.ColumnTypeInt64, 2, 1, 0, nil, i64(1, 2), nil),
		},
		{
			name:   "nulls without validity",
			layout: SupportedLayout,
			field:  int64Field,
			col:    columnar.NewColumn("v", columnar.ColumnTypeInt64, 2, 0, 1, nil, i64(1, 2), nil),
		},
		{
			name:   "null count disagrees with bitmap",
			layout: SupportedLayout,
			field:  int64Field,
			col:    columnar.NewColumn("v", columnar.ColumnTypeInt64, 2, 0, 1, columnar.NewBuffer([]byte{0x03}), i64(1, 2), nil),
		},
		{
			name:   "decreasing offsets",
			layout: SupportedLayout,
			field:  stringField,
			col:    columnar.NewColumn("s", columnar.ColumnTypeString, 2, 0, 0, nil, columnar.NewBuffer([]byte("abcd")), i32(0, 3, 1)),
		},
		{
			name:   "offsets beyond data",
			layout: SupportedLayout,
			field:  stringField,
			col:    columnar.NewColumn("s", columnar.ColumnTypeString, 2, 0, 0, nil, columnar.NewBuffer([]byte("ab")), i32(0, 1, 5)),
		},
		{
			name:   "missing offsets",
			layout: SupportedLayout,
			field:  stringField,
			col:    columnar.NewColumn("s", columnar.ColumnTypeString, 1, 0, 0, nil, columnar.NewBuffer([]byte("ab")), nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := columnar.NewSchema(tt.field)
			require.NoError(t, err)
			batch, err := columnar.NewBatchWithLayout(tt.layout, schema, []*columnar.Column{tt.col})
			require.NoError(t, err)
			defer batch.Release()

			err = VerifyLayout(batch)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))

			rec, err := ToRecord(batch)
			assert.Error(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestIPCWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewIPCWriter(&buf)

	for i := 0; i < 2; i++ {
		batch := buildBatch(t)
		rec, err := ToRecord(batch)
		require.NoError(t, err)
		batch.Release()
		require.NoError(t, w.Write(rec))
		rec.Release()
	}
	require.NoError(t, w.Close())
	assert.Equal(t, int64(8), w.Rows())
	assert.Equal(t, int64(2), w.Records())

	r, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer r.Release()
	rows := int64(0)
	for r.Next() {
		rows += r.Record().NumRows()
	}
	require.NoError(t, r.Err())
	assert.Equal(t, int64(8), rows)
	assert.Equal(t, "name", r.Schema().Field(1).Name)
}

func TestIPCWriterRejectsSchemaChange(t *testing.T) {
	var buf bytes.Buffer
	w := NewIPCWriter(&buf)

	batch := buildBatch(t)
	rec, err := ToRecord(batch)
	require.NoError(t, err)
	batch.Release()
	require.NoError(t, w.Write(rec))
	rec.Release()

	schema, err := columnar.ParseSchema("x:int32")
	require.NoError(t, err)
	bb := columnar.NewBatchBuilder(schema, 1)
	require.NoError(t, bb.AppendRow([]interface{}{int32(1)}))
	other, err := bb.NewBatch()
	require.NoError(t, err)
	rec2, err := ToRecord(other)
	require.NoError(t, err)
	other.Release()
	defer rec2.Release()
	assert.Error(t, w.Write(rec2))
}
